package server

import (
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gin-gonic/gin"
	"github.com/megalib/go-mega/server/backend"
)

type Server struct {
	// r is the gin router.
	r *gin.Engine

	// s is the underlying server.
	s *httptest.Server

	// b is the server backend, which manages accounts, nodes, shares and uploads.
	b *backend.Backend

	// callWatchers records callWatchers received by the server.
	callWatchers     []callWatcher
	callWatchersLock sync.RWMutex

	// minAppVersion is the minimum app version that the server will accept.
	minAppVersion *semver.Version
	versionLock   sync.RWMutex

	// rateLimit, if set, answers 429 to command requests beyond its limit.
	rateLimit *rateLimiter

	// offline is whether to pretend the server is offline and return 5xx errors.
	offline atomic.Bool

	// faults injects failures into the chunk endpoints.
	faults chunkFaults
}

func New(opts ...Option) *Server {
	builder := newServerBuilder()

	for _, opt := range opts {
		opt.config(builder)
	}

	return builder.build()
}

func (s *Server) GetHostURL() string {
	return s.s.URL
}

// AddCallWatcher calls fn for every request to one of paths (or to any path if none are given).
func (s *Server) AddCallWatcher(fn func(Call), paths ...string) {
	s.callWatchersLock.Lock()
	defer s.callWatchersLock.Unlock()

	s.callWatchers = append(s.callWatchers, newCallWatcher(fn, paths...))
}

// CreateUser creates a confirmed account and returns its handle.
func (s *Server) CreateUser(email, password, name string) (string, error) {
	return s.b.CreateUser(email, password, name)
}

// AddContact makes the account userHandle and the account registered under email contacts.
func (s *Server) AddContact(userHandle, email string) error {
	return s.b.AddContact(userHandle, email)
}

// RevokeUser closes every session of an account.
func (s *Server) RevokeUser(userHandle string) {
	s.b.RevokeSessions(userHandle)
}

// GetSignupKey returns the signup key that confirms a pending registration of email.
func (s *Server) GetSignupKey(email string) (string, bool) {
	return s.b.GetSignupKey(email)
}

// CorruptFile damages the stored content of a file node so that downloads fail their MAC check.
func (s *Server) CorruptFile(handle string, offset int64) error {
	blob, ok := s.b.BlobOf(handle)
	if !ok {
		return errNoSuchFile
	}

	return s.b.CorruptBlob(blob, offset)
}

// FailNextChunks makes the next n chunk requests fail with 503.
func (s *Server) FailNextChunks(n int) {
	s.faults.failNext(n)
}

// FailChunksAfter lets n more chunk requests succeed, then fails every chunk request with
// 503 until ClearChunkFaults is called.
func (s *Server) FailChunksAfter(n int) {
	s.faults.failAfter(n)
}

// DelayChunksAt holds every request for the chunk starting at offset back by d before it is
// served, so that chunks of one transfer complete in a chosen order.
func (s *Server) DelayChunksAt(offset int64, d time.Duration) {
	s.faults.delayAt(offset, d)
}

// ClearChunkFaults removes every injected chunk failure.
func (s *Server) ClearChunkFaults() {
	s.faults.clear()
}

func (s *Server) SetMinAppVersion(minAppVersion *semver.Version) {
	s.versionLock.Lock()
	defer s.versionLock.Unlock()

	s.minAppVersion = minAppVersion
}

func (s *Server) SetOffline(offline bool) {
	s.offline.Store(offline)
}

// RunQuarkCommand runs an administrative command against the backend.
func (s *Server) RunQuarkCommand(command string, args ...string) (any, error) {
	return s.b.RunQuarkCommand(command, args...)
}

func (s *Server) Close() {
	s.s.Close()
}
