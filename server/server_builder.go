package server

import (
	"io"
	"net/http/httptest"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/megalib/go-mega/server/backend"
)

// serverBuilder collects the configuration of a Server before it starts.
type serverBuilder struct {
	tls           bool
	logOutput     io.Writer
	quota         int64
	rateLimit     *rateLimiter
	minAppVersion *semver.Version
}

func newServerBuilder() *serverBuilder {
	builder := &serverBuilder{
		tls:       true,
		logOutput: io.Discard,
		quota:     backend.DefaultQuota,
	}

	if os.Getenv("GO_MEGA_SERVER_LOGGER_ENABLED") != "" {
		builder.logOutput = gin.DefaultWriter
	}

	return builder
}

func (builder *serverBuilder) build() *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		r: gin.New(),
		b: backend.New(builder.quota),

		rateLimit:     builder.rateLimit,
		minAppVersion: builder.minAppVersion,
	}

	s.faults.clear()

	s.r.Use(
		gin.LoggerWithConfig(gin.LoggerConfig{Output: builder.logOutput}),
		gin.Recovery(),
		s.recordCalls(),
		s.handleOffline(),
	)

	initRouter(s)

	if builder.tls {
		s.s = httptest.NewTLSServer(s.r)
	} else {
		s.s = httptest.NewServer(s.r)
	}

	return s
}

// Option configures a Server created by New.
type Option interface {
	config(*serverBuilder)
}

type optionFunc func(*serverBuilder)

func (fn optionFunc) config(builder *serverBuilder) { fn(builder) }

// WithTLS sets whether the server serves over TLS with a self-signed certificate. It does by default.
func WithTLS(tls bool) Option {
	return optionFunc(func(builder *serverBuilder) { builder.tls = tls })
}

// WithLogger sets where requests are logged. Logging is off unless GO_MEGA_SERVER_LOGGER_ENABLED is set.
func WithLogger(w io.Writer) Option {
	return optionFunc(func(builder *serverBuilder) { builder.logOutput = w })
}

// WithQuota sets the storage granted to each account.
func WithQuota(bytes int64) Option {
	return optionFunc(func(builder *serverBuilder) { builder.quota = bytes })
}

// WithRateLimit answers 429 to a caller's command requests beyond limit per window.
func WithRateLimit(limit int, window time.Duration) Option {
	return optionFunc(func(builder *serverBuilder) { builder.rateLimit = newRateLimiter(limit, window) })
}

// WithMinAppVersion rejects clients announcing an older app version.
func WithMinAppVersion(version *semver.Version) Option {
	return optionFunc(func(builder *serverBuilder) { builder.minAppVersion = version })
}
