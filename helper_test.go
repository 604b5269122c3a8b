package mega_test

import (
	"bytes"
	"context"
	"crypto/rsa"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/megalib/go-mega"
	"github.com/megalib/go-mega/server"
	"github.com/megalib/go-mega/server/backend"
	"github.com/stretchr/testify/require"
)

func init() {
	key, err := mega.GenerateKeyPair()
	if err != nil {
		panic(err)
	}

	backend.GenerateKey = func() (*rsa.PrivateKey, error) {
		return key, nil
	}
}

const (
	testEmail    = "user@example.com"
	testPassword = "correct horse battery staple"
)

func newTestServer(t *testing.T, opts ...server.Option) *server.Server {
	s := server.New(opts...)
	t.Cleanup(s.Close)

	return s
}

func newTestManager(t *testing.T, s *server.Server, opts ...mega.Option) *mega.Manager {
	m := mega.New(append([]mega.Option{
		mega.WithHostURL(s.GetHostURL()),
		mega.WithTransport(mega.InsecureTransport()),
		mega.WithResumeDir(t.TempDir()),
		mega.WithChunkRetries(3),
	}, opts...)...)
	t.Cleanup(m.Close)

	return m
}

// newTestSession creates an account and returns a refreshed session of it.
func newTestSession(t *testing.T, s *server.Server, m *mega.Manager, email, password string) *mega.Session {
	_, err := s.CreateUser(email, password, strings.Split(email, "@")[0])
	require.NoError(t, err)

	return login(t, m, email, password)
}

func login(t *testing.T, m *mega.Manager, email, password string) *mega.Session {
	sess, err := m.Login(context.Background(), email, password)
	require.NoError(t, err)
	t.Cleanup(sess.Close)

	require.NoError(t, sess.Refresh(context.Background()))

	return sess
}

// writeTempFile writes data to a new file called name and returns its path.
func writeTempFile(t *testing.T, name string, data []byte) string {
	path := filepath.Join(t.TempDir(), name)

	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func newReader(s string) *strings.Reader {
	return strings.NewReader(s)
}

func download(t *testing.T, sess *mega.Session, path string) []byte {
	node, ok := sess.Stat(path)
	require.True(t, ok, path)

	var buf bytes.Buffer

	require.NoError(t, sess.Download(context.Background(), node, &buf))

	return buf.Bytes()
}

// callCounter counts successful calls to the paths it watches.
type callCounter struct {
	calls []server.Call
	lock  sync.Mutex
}

func watchCalls(s *server.Server, paths ...string) *callCounter {
	c := &callCounter{}

	s.AddCallWatcher(func(call server.Call) {
		c.lock.Lock()
		defer c.lock.Unlock()

		c.calls = append(c.calls, call)
	}, paths...)

	return c
}

func (c *callCounter) ok() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	var n int

	for _, call := range c.calls {
		if call.Status == 200 {
			n++
		}
	}

	return n
}

func (c *callCounter) all() []server.Call {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]server.Call(nil), c.calls...)
}

func (c *callCounter) reset() {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.calls = nil
}

// newTestImage returns a small PNG image.
func newTestImage(t *testing.T) []byte {
	img := imaging.New(320, 200, color.NRGBA{R: 200, G: 80, B: 40, A: 255})

	var buf bytes.Buffer

	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))

	return buf.Bytes()
}
