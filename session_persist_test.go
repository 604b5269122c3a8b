package mega_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/megalib/go-mega"
	"github.com/stretchr/testify/require"
)

func TestSession_SaveLoad(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)
	sess.SetWorkers(3)
	sess.SetResume(true)

	_, err := sess.UploadReader(context.Background(), newReader("saved"), 5, "saved.txt", "/Root")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "state", "session.json")

	require.NoError(t, sess.Save(path))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	// Loading does not contact the service, even when it is unreachable.
	calls := watchCalls(s, "/cs")

	s.SetOffline(true)

	loaded, err := m.LoadSession(path)
	require.NoError(t, err)
	t.Cleanup(loaded.Close)

	require.Empty(t, calls.all())

	require.Equal(t, sess.UserHandle(), loaded.UserHandle())
	require.Equal(t, sess.Email(), loaded.Email())
	require.Equal(t, 3, loaded.Workers())
	require.True(t, loaded.Resume())

	// The tree is fetched by the first refresh.
	_, ok := loaded.Stat("/Root/saved.txt")
	require.False(t, ok)

	s.SetOffline(false)

	require.NoError(t, loaded.Refresh(context.Background()))

	for _, call := range calls.all() {
		require.NotContains(t, string(call.RequestBody), `"us0"`)
	}

	require.Equal(t, []byte("saved"), download(t, loaded, "/Root/saved.txt"))
}

func TestSession_SaveLoggedOut(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	require.NoError(t, sess.Logout(context.Background()))
	require.Error(t, sess.Save(filepath.Join(t.TempDir(), "session.json")))
}

func TestLoadSession_Missing(t *testing.T) {
	m := mega.New()
	defer m.Close()

	_, err := m.LoadSession(filepath.Join(t.TempDir(), "missing.json"))
	require.True(t, mega.IsNotExist(err))
}

func TestLoadSession_Corrupt(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	good := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, sess.Save(good))

	b, err := os.ReadFile(good)
	require.NoError(t, err)

	var valid map[string]any

	require.NoError(t, json.Unmarshal(b, &valid))

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"version", func(f map[string]any) { f["version"] = 99 }},
		{"user handle", func(f map[string]any) { delete(f, "user_handle") }},
		{"session id", func(f map[string]any) { f["sid"] = "" }},
		{"workers", func(f map[string]any) { f["workers"] = 0 }},
		{"master key", func(f map[string]any) { f["master_key"] = "short" }},
		{"wrong master key", func(f map[string]any) { f["master_key"] = mega.Base64Encode(mega.RandomBytes(16)) }},
		{"private key", func(f map[string]any) { f["private_key"] = "!!" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := make(map[string]any, len(valid))

			for k, v := range valid {
				file[k] = v
			}

			tt.mutate(file)

			b, err := json.Marshal(file)
			require.NoError(t, err)

			path := filepath.Join(t.TempDir(), "session.json")

			require.NoError(t, os.WriteFile(path, b, 0o600))

			_, err = m.LoadSession(path)

			var corrupt *mega.CorruptSessionError
			require.ErrorAs(t, err, &corrupt)
			require.ErrorIs(t, err, mega.ErrCorruptSession)
			require.Equal(t, path, corrupt.Path)
		})
	}

	t.Run("not json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")

		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

		_, err := m.LoadSession(path)
		require.ErrorIs(t, err, mega.ErrCorruptSession)
	})
}

func TestLoadSession_Revoked(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, sess.Save(path))

	s.RevokeUser(sess.UserHandle())

	// The revoked session id is only noticed by the first call that uses it.
	loaded, err := m.LoadSession(path)
	require.NoError(t, err)
	t.Cleanup(loaded.Close)

	var authErr *mega.AuthError
	require.ErrorAs(t, loaded.Refresh(context.Background()), &authErr)
}

func TestChangePassword(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	_, err := sess.UploadReader(context.Background(), newReader("kept"), 4, "kept.txt", "/Root")
	require.NoError(t, err)

	calls := watchCalls(s, "/cs")

	require.NoError(t, sess.ChangePassword(context.Background(), "a new password"))

	for _, call := range calls.all() {
		require.NotContains(t, string(call.RequestBody), "a new password")
	}

	// The session stays valid.
	require.NoError(t, sess.Refresh(context.Background()))

	_, err = m.Login(context.Background(), testEmail, testPassword)
	require.ErrorAs(t, err, new(*mega.AuthError))

	// Node keys are untouched, so the files stay readable with the new password.
	other := login(t, m, testEmail, "a new password")

	require.Equal(t, []byte("kept"), download(t, other, "/Root/kept.txt"))
}
