package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/megalib/go-mega"
	"github.com/stretchr/testify/require"
)

func TestChunkFaults(t *testing.T) {
	var f chunkFaults

	f.clear()

	require.False(t, f.fail())

	f.failNext(2)

	require.True(t, f.fail())
	require.True(t, f.fail())
	require.False(t, f.fail())

	f.failAfter(1)

	require.False(t, f.fail())
	require.True(t, f.fail())
	require.True(t, f.fail())

	f.delayAt(128, time.Second)

	require.Equal(t, time.Second, f.delay(128))
	require.Zero(t, f.delay(0))

	f.clear()

	require.False(t, f.fail())
	require.Zero(t, f.delay(128))
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		in         string
		start, end int64
		ok         bool
	}{
		{"0-0", 0, 0, true},
		{"131072-393215", 131072, 393215, true},
		{"", 0, 0, false},
		{"12", 0, 0, false},
		{"a-1", 0, 0, false},
		{"1-b", 0, 0, false},
	}

	for _, tt := range tests {
		start, end, ok := parseRange(tt.in)

		require.Equal(t, tt.ok, ok, tt.in)
		require.Equal(t, tt.start, start, tt.in)
		require.Equal(t, tt.end, end, tt.in)
	}
}

func TestCallWatcher_IsWatching(t *testing.T) {
	all := newCallWatcher(func(Call) {})

	require.True(t, all.isWatching("/cs"))
	require.True(t, all.isWatching("/ul/abc/0"))

	some := newCallWatcher(func(Call) {}, "/cs", "/dl/")

	require.True(t, some.isWatching("/cs"))
	require.True(t, some.isWatching("/dl/abc/0-9"))
	require.False(t, some.isWatching("/dl/"))
	require.False(t, some.isWatching("/ul/abc/0"))
	require.False(t, some.isWatching("/csx"))
}

func TestRateLimiter(t *testing.T) {
	r := newRateLimiter(2, time.Hour)

	require.Zero(t, r.exceeded("alice"))
	require.Zero(t, r.exceeded("alice"))
	require.Positive(t, r.exceeded("alice"))

	// Other callers have their own window.
	require.Zero(t, r.exceeded("bob"))

	short := newRateLimiter(1, time.Millisecond)

	require.Zero(t, short.exceeded("alice"))
	require.Eventually(t, func() bool { return short.exceeded("alice") == 0 }, time.Second, 5*time.Millisecond)
}

func TestValidateAppVersion(t *testing.T) {
	s := New()
	defer s.Close()

	require.True(t, s.validateAppVersion("anything"))

	s.SetMinAppVersion(semver.MustParse("1.2.0"))

	require.True(t, s.validateAppVersion("go-mega_1.2.0"))
	require.True(t, s.validateAppVersion("go-mega_2.0.0"))
	require.False(t, s.validateAppVersion("go-mega_1.1.9"))
	require.False(t, s.validateAppVersion("go-mega"))
	require.False(t, s.validateAppVersion("go-mega_bad"))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, mega.NoEntry, codeOf(mega.Error{Code: mega.NoEntry}))
	require.Equal(t, mega.InternalError, codeOf(errNoSuchFile))
}

// post sends a raw command batch and decodes the response.
func post(t *testing.T, s *Server, query string, body any) (int, json.RawMessage) {
	b, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.GetHostURL()+"/cs?"+query, bytes.NewReader(b))
	require.NoError(t, err)

	req.Header.Set("x-mega-appversion", "test_1.0.0")
	req.Header.Set("Content-Type", "application/json")

	res, err := s.s.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out json.RawMessage

	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))

	return res.StatusCode, out
}

func TestHandleCommands(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.CreateUser("user@example.com", "password", "user")
	require.NoError(t, err)

	status, out := post(t, s, "id=1", []any{
		mega.PreLoginReq{Action: "us0", User: "user@example.com"},
		mega.PreLoginReq{Action: "us0", User: "nobody@example.com"},
		map[string]string{"a": "nope"},
		mega.QuotaReq{Action: "uq"},
	})
	require.Equal(t, http.StatusOK, status)

	var results []json.RawMessage

	require.NoError(t, json.Unmarshal(out, &results))
	require.Len(t, results, 4)

	var pre mega.PreLoginRes

	require.NoError(t, json.Unmarshal(results[0], &pre))
	require.Equal(t, 2, pre.Version)
	require.NotEmpty(t, pre.Salt)

	require.JSONEq(t, `-9`, string(results[1]))
	require.JSONEq(t, `-2`, string(results[2]))
	require.JSONEq(t, `-15`, string(results[3]))
}

func TestHandleCommands_BadSession(t *testing.T) {
	s := New()
	defer s.Close()

	status, out := post(t, s, "id=1&sid=invalid", []any{mega.QuotaReq{Action: "uq"}})
	require.Equal(t, http.StatusOK, status)

	// A rejected session fails the whole batch.
	require.JSONEq(t, `-15`, string(out))
}

func TestHandleCommands_MissingAppVersion(t *testing.T) {
	s := New()
	defer s.Close()

	res, err := s.s.Client().Post(s.GetHostURL()+"/cs", "application/json", bytes.NewReader([]byte("[]")))
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}
