package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/megalib/go-mega"
)

func initRouter(s *Server) {
	s.r.Use(s.requireValidAppVersion())

	// The command channel; sessions are checked per command.
	s.r.POST("/cs", s.limitRate(), s.handleCommands())

	// Transfer endpoints are addressed by unguessable ids handed out by the command channel.
	if ul := s.r.Group("/ul", s.injectChunkFaults()); ul != nil {
		ul.POST("/:id/:offset", s.handlePostChunk())
	}

	if dl := s.r.Group("/dl", s.injectChunkFaults()); dl != nil {
		dl.GET("/:id/:range", s.handleGetChunk())
	}

	if fa := s.r.Group("/fa"); fa != nil {
		fa.POST("/:id/:offset", s.handlePostFileAttr())
		fa.GET("/:handle", s.handleGetFileAttr())
	}

	// Administrative routes don't need authentication.
	if internal := s.r.Group("/internal"); internal != nil {
		internal.GET("/quark/:command", s.handleQuark())
	}
}

func (s *Server) requireValidAppVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		appVersion := c.Request.Header.Get("x-mega-appversion")

		if appVersion == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, mega.BadArguments)
		} else if ok := s.validateAppVersion(appVersion); !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, mega.Blocked)
		}
	}
}

func (s *Server) limitRate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.rateLimit == nil {
			return
		}

		key := c.Query("sid")
		if key == "" {
			key = c.ClientIP()
		}

		if wait := s.rateLimit.exceeded(key); wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatus(http.StatusTooManyRequests)
		}
	}
}

func (s *Server) handleOffline() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.offline.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
	}
}

// validateAppVersion accepts "<client>_<semver>" versions no older than the configured minimum.
func (s *Server) validateAppVersion(appVersion string) bool {
	s.versionLock.RLock()
	defer s.versionLock.RUnlock()

	if s.minAppVersion == nil {
		return true
	}

	_, v, ok := strings.Cut(appVersion, "_")
	if !ok || strings.Contains(v, "_") {
		return false
	}

	version, err := semver.NewVersion(v)

	return err == nil && !version.LessThan(s.minAppVersion)
}

// codeOf returns the protocol code carried by err, or a generic internal error.
func codeOf(err error) mega.Code {
	if apiErr := new(mega.Error); errors.As(err, apiErr) {
		return apiErr.Code
	}

	return mega.InternalError
}
