package mega

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResumeState_Upload(t *testing.T) {
	dir, master := t.TempDir(), RandomBytes(16)
	path := resumePath(dir, Upload, "me", "/tmp/file", "parent")

	state, err := openResume(path, Upload, master)
	require.NoError(t, err)
	require.NoError(t, state.bind("", 1000, "1000:1"))

	aesKey, nonce := RandomBytes(16), RandomBytes(8)

	require.NoError(t, state.begin("https://host/ul/abc", aesKey, nonce))
	require.NoError(t, state.markUploaded(0, [16]byte{1}, ""))
	require.NoError(t, state.markUploaded(2, [16]byte{2}, "done"))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	loaded, err := openResume(path, Upload, master)
	require.NoError(t, err)
	require.NoError(t, loaded.bind("", 1000, "1000:1"))
	require.Equal(t, "https://host/ul/abc", loaded.Target)
	require.Equal(t, "done", loaded.Completion)

	gotKey, gotNonce, err := loaded.uploadKey()
	require.NoError(t, err)
	require.Equal(t, aesKey, gotKey)
	require.Equal(t, nonce, gotNonce)

	macs := newMACAccumulator(3)
	require.NoError(t, loaded.seed(macs, 3))
	require.True(t, macs.done(0))
	require.False(t, macs.done(1))
	require.True(t, macs.done(2))

	// A changed local file makes the state stale.
	require.ErrorIs(t, loaded.bind("", 1000, "1000:2"), ErrStaleResume)
	require.ErrorIs(t, loaded.bind("", 1001, "1000:1"), ErrStaleResume)

	// So does a different master key.
	other, err := openResume(path, Upload, RandomBytes(16))
	require.NoError(t, err)

	_, _, err = other.uploadKey()
	require.ErrorIs(t, err, ErrStaleResume)

	require.NoError(t, loaded.remove())
	require.NoFileExists(t, path)
	require.NoError(t, loaded.remove())
}

func TestResumeState_Download(t *testing.T) {
	path := resumePath(t.TempDir(), Download, "view", "node", "/tmp/out")

	state, err := openResume(path, Download, nil)
	require.NoError(t, err)
	require.NoError(t, state.bind("node", 500, ""))
	require.NoError(t, state.check(500, "fp"))
	require.NoError(t, state.markDone(1, [16]byte{9}))

	loaded, err := openResume(path, Download, nil)
	require.NoError(t, err)
	require.NoError(t, loaded.bind("node", 500, ""))
	require.NoError(t, loaded.check(500, "fp"))

	require.ErrorIs(t, loaded.check(500, "other"), ErrStaleResume)
	require.ErrorIs(t, loaded.bind("other", 500, ""), ErrStaleResume)

	// Chunk indices outside the file are rejected.
	require.ErrorIs(t, loaded.seed(newMACAccumulator(1), 1), ErrStaleResume)
}

func TestResumeState_Unreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := openResume(path, Upload, nil)
	require.ErrorIs(t, err, ErrStaleResume)

	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"kind":"download","chunks":{}}`), 0o600))

	_, err = openResume(path, Upload, nil)
	require.ErrorIs(t, err, ErrStaleResume)
}

func TestResumePath(t *testing.T) {
	require.Equal(t, resumePath("d", Upload, "a", "b"), resumePath("d", Upload, "a", "b"))
	require.NotEqual(t, resumePath("d", Upload, "a", "b"), resumePath("d", Download, "a", "b"))
	require.NotEqual(t, resumePath("d", Upload, "a", "b"), resumePath("d", Upload, "ab"))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")

	require.NoError(t, writeFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, writeFileAtomic(path, []byte("two"), 0o600))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "two", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
