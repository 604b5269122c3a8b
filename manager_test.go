package mega_test

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/megalib/go-mega"
	"github.com/megalib/go-mega/server"
	"github.com/stretchr/testify/require"
)

func TestConnectionReuse(t *testing.T) {
	s := newTestServer(t)

	netCtl := mega.NewNetCtl()

	var dialed atomic.Int64

	netCtl.OnDial(func(net.Conn) {
		dialed.Add(1)
	})

	m := mega.New(
		mega.WithHostURL(s.GetHostURL()),
		mega.WithTransport(mega.NewDialer(netCtl, &tls.Config{InsecureSkipVerify: true}).GetRoundTripper()),
	)
	defer m.Close()

	_, err := s.CreateUser(testEmail, testPassword, "user")
	require.NoError(t, err)

	// This should succeed; the resulting connection should be reused.
	sess, err := m.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	defer sess.Close()

	// We should have dialed once.
	require.Equal(t, int64(1), dialed.Load())

	// This should succeed; we should not re-dial.
	require.NoError(t, sess.Refresh(context.Background()))

	// We should not have re-dialed.
	require.Equal(t, int64(1), dialed.Load())
}

func TestQuark(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	require.NoError(t, m.Quark(context.Background(), "user:create", "-email", testEmail, "-password", "secret", "-name", "user"))

	_ = login(t, m, testEmail, "secret")

	require.Error(t, m.Quark(context.Background(), "no:such:command"))
	require.Error(t, m.Quark(context.Background(), "user:create", "-email", "other@example.com"))
}

func TestHandleTooManyRequests(t *testing.T) {
	s := newTestServer(t, server.WithRateLimit(1, time.Second))
	m := newTestManager(t, s, mega.WithRetryCount(5))

	_, err := s.CreateUser(testEmail, testPassword, "user")
	require.NoError(t, err)

	calls := watchCalls(s, "/cs")

	// Login needs several command requests; those over the limit are retried.
	sess, err := m.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	defer sess.Close()

	var limited int

	for _, call := range calls.all() {
		if call.Status == http.StatusTooManyRequests {
			limited++

			require.NotEmpty(t, call.ResponseHeader.Get("Retry-After"))
		}
	}

	require.Positive(t, limited)
}

func TestHandleTooManyRequests_GivesUp(t *testing.T) {
	var numCalls atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		numCalls.Add(1)

		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	m := mega.New(
		mega.WithHostURL(ts.URL),
		mega.WithRetryCount(2),
	)
	defer m.Close()

	_, err := m.Login(context.Background(), testEmail, testPassword)
	require.Error(t, err)

	// The first call and two retries.
	require.Equal(t, int64(3), numCalls.Load())
}

func TestHandleUnprocessableEntity(t *testing.T) {
	var numCalls atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		numCalls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	m := mega.New(
		mega.WithHostURL(ts.URL),
		mega.WithRetryCount(5),
	)
	defer m.Close()

	// The call should fail because the first call should fail (422s are not retried).
	require.Error(t, m.Quark(context.Background(), "user:create"))

	// The server should be called 1 time.
	require.Equal(t, int64(1), numCalls.Load())
}

func TestHandleDialFailure(t *testing.T) {
	var numCalls atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		numCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := mega.New(
		mega.WithHostURL(ts.URL),
		mega.WithRetryCount(5),
		mega.WithTransport(newFailingRoundTripper(5)),
	)
	defer m.Close()

	// Commands are not replayed after a transport failure: the service may have run them.
	_, err := m.Login(context.Background(), testEmail, testPassword)
	require.Error(t, err)

	// The server should never be called.
	require.Equal(t, int64(0), numCalls.Load())
}

func TestRetriesWithContextTimeout(t *testing.T) {
	var numCalls atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if numCalls.Add(1) < 5 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		} else {
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer ts.Close()

	m := mega.New(
		mega.WithHostURL(ts.URL),
		mega.WithRetryCount(5),
	)
	defer m.Close()

	// Theoretically, this should reach the fifth call; that takes at least 4s, and we only
	// allow 1s in the context.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := m.Login(ctx, testEmail, testPassword)
	require.Error(t, err)
	require.Less(t, numCalls.Load(), int64(5))
}

func TestNetCtl_Disable(t *testing.T) {
	s := newTestServer(t)

	_, err := s.CreateUser(testEmail, testPassword, "user")
	require.NoError(t, err)

	ctl := mega.NewNetCtl()

	m := mega.New(
		mega.WithHostURL(s.GetHostURL()),
		mega.WithTransport(mega.NewDialer(ctl, &tls.Config{InsecureSkipVerify: true}).GetRoundTripper()),
	)
	defer m.Close()

	ctl.Disable()

	_, err = m.Login(context.Background(), testEmail, testPassword)
	require.Error(t, err)

	ctl.Enable()

	sess, err := m.Login(context.Background(), testEmail, testPassword)
	require.NoError(t, err)
	defer sess.Close()
}

type failingRoundTripper struct {
	http.RoundTripper

	fails, calls int
}

func newFailingRoundTripper(fails int) http.RoundTripper {
	return &failingRoundTripper{
		RoundTripper: http.DefaultTransport,
		fails:        fails,
	}
}

func (rt *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.calls++

	if rt.calls < rt.fails {
		return nil, errors.New("simulating network error")
	}

	return rt.RoundTripper.RoundTrip(req)
}
