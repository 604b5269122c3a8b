package mega

import (
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// sessionVersion is the version of the persisted session format.
const sessionVersion = 1

// sessionFile is the persisted form of a session. It holds the master key in the clear:
// the file is written with owner-only permissions and protecting it is up to the caller.
type sessionFile struct {
	Version    int    `json:"version"`
	UserHandle string `json:"user_handle"`
	Email      string `json:"email"`
	Name       string `json:"name,omitempty"`
	MasterKey  string `json:"master_key"`
	PrivateKey string `json:"private_key"`
	SessionID  string `json:"sid"`
	Workers    int    `json:"workers"`
	Resume     bool   `json:"resume"`
	Previews   bool   `json:"previews"`
}

// Save writes what is needed to resume the session without logging in again to path.
func (s *Session) Save(path string) error {
	s.idLock.RLock()

	file := sessionFile{
		Version:    sessionVersion,
		UserHandle: s.userHandle,
		Email:      s.email,
		Name:       s.name,
		MasterKey:  Base64Encode(s.master),
		PrivateKey: Base64Encode(s.privk),
		SessionID:  s.sid,
		Workers:    s.Workers(),
		Resume:     s.Resume(),
		Previews:   s.Previews(),
	}

	s.idLock.RUnlock()

	if file.SessionID == "" {
		return errors.New("session is logged out")
	}

	b, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return &IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}

	return writeFileAtomic(path, b, 0o600)
}

// LoadSession restores a session written by Save without contacting the service. The tree of
// the returned session is empty until Refresh is called; a session revoked in the meantime
// surfaces as an AuthError from that first call. A file that does not pass validation yields
// a CorruptSessionError and no session; a missing file yields an error matching fs.ErrNotExist.
func (m *Manager) LoadSession(path string) (*Session, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	var file sessionFile

	if err := json.Unmarshal(b, &file); err != nil {
		return nil, &CorruptSessionError{Path: path, Reason: "not a session file", Err: err}
	}

	auth, priv, err := file.validate()
	if err != nil {
		var corrupt *CorruptSessionError

		if errors.As(err, &corrupt) {
			corrupt.Path = path
		}

		return nil, err
	}

	s := newSession(m, auth, priv)

	s.email, s.name = file.Email, file.Name

	s.SetWorkers(file.Workers)
	s.SetResume(file.Resume)
	s.EnablePreviews(file.Previews)

	return s, nil
}

// validate checks every field before anything is hydrated from the file.
func (f sessionFile) validate() (Auth, *rsa.PrivateKey, error) {
	switch {
	case f.Version != sessionVersion:
		return Auth{}, nil, &CorruptSessionError{Reason: fmt.Sprintf("unsupported version %d", f.Version)}

	case f.UserHandle == "":
		return Auth{}, nil, &CorruptSessionError{Reason: "missing user handle"}

	case f.SessionID == "":
		return Auth{}, nil, &CorruptSessionError{Reason: "missing session id"}

	case f.Workers < 1:
		return Auth{}, nil, &CorruptSessionError{Reason: fmt.Sprintf("invalid worker count %d", f.Workers)}
	}

	master, err := Base64Decode(f.MasterKey)
	if err != nil || len(master) != 16 {
		return Auth{}, nil, &CorruptSessionError{Reason: "invalid master key", Err: err}
	}

	privk, err := Base64Decode(f.PrivateKey)
	if err != nil {
		return Auth{}, nil, &CorruptSessionError{Reason: "invalid private key", Err: err}
	}

	priv, err := DecryptPrivateKey(master, privk)
	if err != nil {
		return Auth{}, nil, &CorruptSessionError{Reason: "private key does not match master key", Err: err}
	}

	return Auth{
		UserHandle: f.UserHandle,
		SessionID:  f.SessionID,
		MasterKey:  master,
		PrivateKey: privk,
	}, priv, nil
}

// IsNotExist reports whether err was caused by a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
