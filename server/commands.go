package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/megalib/go-mega"
)

// caller is who a command batch is sent by: an account session, a public folder, or nobody.
type caller struct {
	sid    string
	user   string
	folder string
}

type command func(s *Server, who caller, raw json.RawMessage) (any, error)

// commands maps each action to its handler.
var commands = map[string]command{
	"us0": withReq(func(s *Server, _ caller, req mega.PreLoginReq) (any, error) {
		return s.b.PreLogin(req.User)
	}),

	"us": withReq(func(s *Server, _ caller, req mega.LoginReq) (any, error) {
		return s.b.Login(req.User, req.UserHash)
	}),

	"sml": withUser(func(s *Server, who caller, _ mega.LogoutReq) (any, error) {
		s.b.Logout(who.sid)
		return mega.SuccessCode, nil
	}),

	"up": withUser(func(s *Server, who caller, req mega.ChangePasswordReq) (any, error) {
		return s.b.ChangePassword(who.user, req)
	}),

	"ug": withUser(func(s *Server, who caller, _ mega.UserReq) (any, error) {
		return s.b.GetUser(who.user)
	}),

	"uq": withUser(func(s *Server, who caller, _ mega.QuotaReq) (any, error) {
		return s.b.Quota(who.user)
	}),

	"uk": withUser(func(s *Server, _ caller, req mega.PublicKeyReq) (any, error) {
		return s.b.GetPublicKey(req.User)
	}),

	"f": withReq(func(s *Server, who caller, _ mega.FetchNodesReq) (any, error) {
		switch {
		case who.folder != "":
			return s.b.FetchFolder(who.folder)

		case who.user != "":
			return s.b.Fetch(who.user)

		default:
			return nil, mega.Error{Code: mega.BadSession}
		}
	}),

	"p": withUser(func(s *Server, who caller, req mega.PutNodesReq) (any, error) {
		return s.b.Put(who.user, req)
	}),

	"a": withUser(func(s *Server, who caller, req mega.SetAttrReq) (any, error) {
		return mega.SuccessCode, s.b.SetAttrs(who.user, req)
	}),

	"m": withUser(func(s *Server, who caller, req mega.MoveReq) (any, error) {
		return mega.SuccessCode, s.b.Move(who.user, req)
	}),

	"d": withUser(func(s *Server, who caller, req mega.DeleteReq) (any, error) {
		return mega.SuccessCode, s.b.Delete(who.user, req.Node)
	}),

	"l": withUser(func(s *Server, who caller, req mega.ExportReq) (any, error) {
		return s.b.Export(who.user, req.Node)
	}),

	"s2": withUser(func(s *Server, who caller, req mega.ShareReq) (any, error) {
		return struct{}{}, s.b.Share(who.user, req)
	}),

	"u": withUser(func(s *Server, _ caller, req mega.UploadURLReq) (any, error) {
		id, err := s.b.NewUpload(req.Size)
		if err != nil {
			return nil, err
		}

		return mega.UploadURLRes{URL: s.GetHostURL() + "/ul/" + id}, nil
	}),

	"ufa": withUser(func(s *Server, _ caller, req mega.AttrUploadReq) (any, error) {
		id, err := s.b.NewAttrUpload(req.Size)
		if err != nil {
			return nil, err
		}

		return mega.UploadURLRes{URL: s.GetHostURL() + "/fa/" + id}, nil
	}),

	"g": withReq(func(s *Server, who caller, req mega.DownloadURLReq) (any, error) {
		if req.Public == "" && who.user == "" && who.folder == "" {
			return nil, mega.Error{Code: mega.BadSession}
		}

		blob, res, err := s.b.Download(who.user, who.folder, req)
		if err != nil {
			return nil, err
		}

		res.URL = s.GetHostURL() + "/dl/" + blob

		return res, nil
	}),

	"uc2": withReq(func(s *Server, _ caller, req mega.RegisterReq) (any, error) {
		return s.b.Register(req)
	}),

	"ud2": withReq(func(s *Server, _ caller, req mega.VerifyReq) (any, error) {
		return s.b.ConfirmRegistration(req.SignupKey)
	}),
}

// withReq decodes the command into Req before calling fn.
func withReq[Req any](fn func(*Server, caller, Req) (any, error)) command {
	return func(s *Server, who caller, raw json.RawMessage) (any, error) {
		var req Req

		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, mega.Error{Code: mega.BadArguments}
		}

		return fn(s, who, req)
	}
}

// withUser is withReq for commands that need a logged-in account.
func withUser[Req any](fn func(*Server, caller, Req) (any, error)) command {
	return withReq(func(s *Server, who caller, req Req) (any, error) {
		if who.user == "" {
			return nil, mega.Error{Code: mega.BadSession}
		}

		return fn(s, who, req)
	})
}

func (s *Server) handleCommands() gin.HandlerFunc {
	return func(c *gin.Context) {
		var batch []json.RawMessage

		if err := c.BindJSON(&batch); err != nil {
			return
		}

		who := caller{
			sid:    c.Query("sid"),
			folder: c.Query("n"),
		}

		if who.sid != "" {
			user, err := s.b.VerifySession(who.sid)
			if err != nil {
				c.JSON(http.StatusOK, codeOf(err))
				return
			}

			who.user = user
		}

		results := make([]any, 0, len(batch))

		for _, raw := range batch {
			results = append(results, s.runCommand(who, raw))
		}

		c.JSON(http.StatusOK, results)
	}
}

// runCommand runs one command of a batch, returning its result or its error code.
func (s *Server) runCommand(who caller, raw json.RawMessage) any {
	var head struct {
		Action string `json:"a"`
	}

	if err := json.Unmarshal(raw, &head); err != nil {
		return mega.BadArguments
	}

	cmd, ok := commands[head.Action]
	if !ok {
		return mega.BadArguments
	}

	res, err := cmd(s, who, raw)
	if err != nil {
		return codeOf(err)
	}

	return res
}
