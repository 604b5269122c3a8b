package mega_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/megalib/go-mega"
	"github.com/stretchr/testify/require"
)

func TestExport_File(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s, mega.WithLinkHost("https://links.example.com"))

	sess := newTestSession(t, s, m, testEmail, testPassword)

	data := mega.RandomBytes(200 << 10)

	_, err := sess.UploadReader(context.Background(), bytes.NewReader(data), int64(len(data)), "report.pdf", "/Root")
	require.NoError(t, err)

	calls := watchCalls(s)

	url, err := sess.Export(context.Background(), "/Root/report.pdf")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://links.example.com/file/"), url)

	// Exporting again returns the same link.
	again, err := sess.Export(context.Background(), "/Root/report.pdf")
	require.NoError(t, err)
	require.Equal(t, url, again)

	// A manager without any session can read the link.
	anon := newTestManager(t, s)

	info, err := anon.GetPublicFileInfo(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, "report.pdf", info.Name)
	require.Equal(t, int64(len(data)), info.Size)

	var buf bytes.Buffer

	require.NoError(t, anon.DownloadPublicFile(context.Background(), url, &buf))
	require.True(t, bytes.Equal(data, buf.Bytes()))

	// The key in the fragment never reaches the service.
	_, key, ok := strings.Cut(url, "#")
	require.True(t, ok)

	for _, call := range calls.all() {
		require.NotContains(t, call.URL.String(), key)
		require.NotContains(t, string(call.RequestBody), key)
	}
}

func TestExport_FileWrongKey(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	_, err := sess.UploadReader(context.Background(), newReader("secret"), 6, "a.txt", "/Root")
	require.NoError(t, err)

	url, err := sess.Export(context.Background(), "/Root/a.txt")
	require.NoError(t, err)

	link, err := mega.ParseLink(url)
	require.NoError(t, err)

	link.Key = mega.RandomBytes(32)

	_, err = m.GetPublicFileInfo(context.Background(), link.String())
	require.ErrorIs(t, err, mega.ErrBadKey)
}

func TestExport_Rejected(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	_, err := sess.Export(context.Background(), "/Root")
	require.True(t, mega.IsCode(err, mega.AccessDenied))

	_, err = sess.Export(context.Background(), "/Root/missing")
	require.ErrorIs(t, err, mega.ErrNotFound)

	_, err = m.OpenFolder(context.Background(), "https://mega.nz/file/abc#"+mega.Base64Encode(mega.RandomBytes(32)))
	require.ErrorIs(t, err, mega.ErrBadLink)

	_, err = m.GetPublicFileInfo(context.Background(), "not a link")
	require.ErrorIs(t, err, mega.ErrBadLink)
}

func TestExport_Folder(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	_, err := sess.Mkdir(context.Background(), "/Root/Photos")
	require.NoError(t, err)

	_, err = sess.Mkdir(context.Background(), "/Root/Photos/2023")
	require.NoError(t, err)

	data := mega.RandomBytes(300 << 10)

	_, err = sess.UploadReader(context.Background(), bytes.NewReader(data), int64(len(data)), "beach.jpg", "/Root/Photos/2023")
	require.NoError(t, err)

	url, err := sess.Export(context.Background(), "/Root/Photos")
	require.NoError(t, err)

	link, err := mega.ParseLink(url)
	require.NoError(t, err)
	require.Equal(t, mega.FolderLink, link.Kind)

	anon := newTestManager(t, s)

	folder, err := anon.OpenFolder(context.Background(), url)
	require.NoError(t, err)
	require.Equal(t, link.Handle, folder.Handle())
	require.Equal(t, "Photos", folder.Root().Name)

	children, err := folder.List("/", false)
	require.NoError(t, err)
	require.Equal(t, []string{"2023"}, nodeNames(children))

	all, err := folder.List("/", true)
	require.NoError(t, err)
	require.Equal(t, []string{"2023", "beach.jpg"}, nodeNames(all))

	node, ok := folder.Stat("/2023/beach.jpg")
	require.True(t, ok)
	require.Equal(t, int64(len(data)), node.Size)

	var buf bytes.Buffer

	require.NoError(t, folder.Download(context.Background(), node, &buf))
	require.True(t, bytes.Equal(data, buf.Bytes()))

	out := filepath.Join(t.TempDir(), "beach.jpg")

	require.NoError(t, folder.DownloadFile(context.Background(), "/2023/beach.jpg", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, bytes.Equal(data, got))

	// Files added after the export are readable through the link too.
	_, err = sess.UploadReader(context.Background(), newReader("later"), 5, "later.txt", "/Root/Photos")
	require.NoError(t, err)

	folder, err = anon.OpenFolder(context.Background(), url)
	require.NoError(t, err)

	node, ok = folder.Stat("/later.txt")
	require.True(t, ok)

	buf.Reset()

	require.NoError(t, folder.Download(context.Background(), node, &buf))
	require.Equal(t, "later", buf.String())
}

func TestExport_FolderWrongKey(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	_, err := sess.Mkdir(context.Background(), "/Root/Shared")
	require.NoError(t, err)

	url, err := sess.Export(context.Background(), "/Root/Shared")
	require.NoError(t, err)

	link, err := mega.ParseLink(url)
	require.NoError(t, err)

	link.Key = mega.RandomBytes(16)

	_, err = m.OpenFolder(context.Background(), link.String())
	require.ErrorIs(t, err, mega.ErrBadKey)
}

func TestShareFolder(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	owner := newTestSession(t, s, m, testEmail, testPassword)
	other := newTestSession(t, s, m, "friend@example.com", "another password")

	require.NoError(t, s.AddContact(owner.UserHandle(), "friend@example.com"))

	_, err := owner.Mkdir(context.Background(), "/Root/Project")
	require.NoError(t, err)

	_, err = owner.UploadReader(context.Background(), newReader("plan"), 4, "plan.txt", "/Root/Project")
	require.NoError(t, err)

	require.NoError(t, owner.ShareFolder(context.Background(), "/Root/Project", "Friend@Example.com", mega.ReadWrite))

	require.NoError(t, other.Refresh(context.Background()))

	shared, ok := other.Stat("/Project")
	require.True(t, ok)
	require.Equal(t, owner.UserHandle(), shared.SharedBy)

	require.Equal(t, []byte("plan"), download(t, other, "/Project/plan.txt"))

	// Files the owner adds later are readable by the recipient.
	_, err = owner.UploadReader(context.Background(), newReader("more"), 4, "more.txt", "/Root/Project")
	require.NoError(t, err)

	require.NoError(t, other.Refresh(context.Background()))
	require.Equal(t, []byte("more"), download(t, other, "/Project/more.txt"))

	// Contacts are delivered with the tree.
	require.NoError(t, owner.Refresh(context.Background()))

	var emails []string

	for _, c := range owner.ListContacts() {
		emails = append(emails, c.Email)
	}

	require.Contains(t, emails, "friend@example.com")
}

func TestShareFolder_Rejected(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	sess := newTestSession(t, s, m, testEmail, testPassword)

	_, err := sess.UploadReader(context.Background(), newReader("x"), 1, "file.txt", "/Root")
	require.NoError(t, err)

	require.ErrorIs(t, sess.ShareFolder(context.Background(), "/Root/file.txt", testEmail, mega.ReadOnly), mega.ErrNotContainer)

	_, err = sess.Mkdir(context.Background(), "/Root/Folder")
	require.NoError(t, err)

	require.Error(t, sess.ShareFolder(context.Background(), "/Root/Folder", "nobody@example.com", mega.ReadOnly))
}
