package mega

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// PublicFile describes a file reached through a public file link.
type PublicFile struct {
	Handle string
	Name   string
	Size   int64
}

// GetPublicFileInfo returns the name and size of the file behind a public file link.
// The key in the link's fragment is only used locally.
func (m *Manager) GetPublicFileInfo(ctx context.Context, rawURL string) (PublicFile, error) {
	link, err := parseLinkOf(rawURL, FileLink)
	if err != nil {
		return PublicFile{}, err
	}

	var res DownloadURLRes

	if err := m.call(ctx, channel{}, publicFileReq(link), &res); err != nil {
		return PublicFile{}, fmt.Errorf("failed to get public file %s: %w", link.Handle, err)
	}

	attrs, err := DecryptAttributes(link.Key, res.Attrs)
	if err != nil {
		var cryptoErr *CryptoError

		if errors.As(err, &cryptoErr) {
			cryptoErr.Handle = link.Handle
		}

		return PublicFile{}, err
	}

	return PublicFile{Handle: link.Handle, Name: attrs.Name, Size: res.Size}, nil
}

// DownloadPublicFile writes the file behind a public file link to w.
func (m *Manager) DownloadPublicFile(ctx context.Context, rawURL string, w io.Writer) error {
	link, err := parseLinkOf(rawURL, FileLink)
	if err != nil {
		return err
	}

	return m.download(ctx, channel{}, downloadJob{
		handle:  link.Handle,
		req:     publicFileReq(link),
		key:     FileKey(link.Key),
		sink:    sinkFor(w),
		workers: m.workers,
	})
}

func publicFileReq(link Link) DownloadURLReq {
	return DownloadURLReq{Action: "g", G: 1, Public: link.Handle}
}

func parseLinkOf(rawURL string, kind LinkKind) (Link, error) {
	link, err := ParseLink(rawURL)
	if err != nil {
		return Link{}, err
	}

	if link.Kind != kind {
		return Link{}, fmt.Errorf("%w: not a %s link", ErrBadLink, kind)
	}

	return link, nil
}

// PublicFolder is a read-only view of a folder reached through a public folder link. Its
// paths are relative to the shared folder: "/" is the folder itself.
type PublicFolder struct {
	m    *Manager
	link Link
	tree *tree

	workers atomic.Int64
	resume  atomic.Bool
}

// OpenFolder fetches the subtree behind a public folder link and decrypts it with the key in
// the link's fragment.
func (m *Manager) OpenFolder(ctx context.Context, rawURL string) (*PublicFolder, error) {
	link, err := parseLinkOf(rawURL, FolderLink)
	if err != nil {
		return nil, err
	}

	var res FetchNodesRes

	if err := m.call(ctx, channel{folder: link.Handle}, FetchNodesReq{Action: "f", C: 1, Recurse: 1}, &res); err != nil {
		return nil, fmt.Errorf("failed to fetch public folder %s: %w", link.Handle, err)
	}

	root, ok := folderRoot(res.Nodes)
	if !ok {
		return nil, &SyncError{Err: errors.New("shared folder missing from response")}
	}

	t, err := buildTree(res.Nodes, newLinkKeyRing(root, link.Key), func(rec NodeRecord) bool { return rec.Handle == root }, false)
	if err != nil {
		return nil, err
	}

	if len(t.roots) == 0 {
		return nil, &CryptoError{Op: "folder key", Handle: root, Err: ErrBadKey}
	}

	logrus.WithFields(logrus.Fields{
		"pkg":   "go-mega",
		"link":  link.Handle,
		"nodes": len(t.nodes),
	}).Debug("Opened public folder")

	f := &PublicFolder{m: m, link: link, tree: t}

	f.workers.Store(int64(m.workers))

	return f, nil
}

// folderRoot finds the shared folder in a public folder listing: the folder whose parent is
// not itself part of the listing.
func folderRoot(records []NodeRecord) (string, bool) {
	handles := make(map[string]bool, len(records))

	for _, rec := range records {
		handles[rec.Handle] = true
	}

	for _, rec := range records {
		if rec.Type == FolderNode && !handles[rec.Parent] {
			return rec.Handle, true
		}
	}

	return "", false
}

// Handle returns the public handle of the folder link.
func (f *PublicFolder) Handle() string {
	return f.link.Handle
}

// Root returns the shared folder itself.
func (f *PublicFolder) Root() Node {
	node, _ := f.Stat("/")
	return node
}

// Stat returns the node at path.
func (f *PublicFolder) Stat(path string) (Node, bool) {
	return statIn(f, path)
}

// List returns the children of the folder at path, or its whole subtree in pre-order when recursive.
func (f *PublicFolder) List(path string, recursive bool) ([]Node, error) {
	return listIn(f, path, recursive)
}

// Download writes the content of node to w.
func (f *PublicFolder) Download(ctx context.Context, node Node, w io.Writer) error {
	return downloadIn(ctx, f, node, w)
}

// DownloadFile downloads the file at path to localPath.
func (f *PublicFolder) DownloadFile(ctx context.Context, path, localPath string) error {
	node, ok := f.Stat(path)
	if !ok {
		return &NotFoundError{Path: path}
	}

	return f.DownloadToFile(ctx, node, localPath)
}

// DownloadToFile downloads node to localPath through a ".part" file renamed on success.
func (f *PublicFolder) DownloadToFile(ctx context.Context, node Node, localPath string) error {
	return downloadToFileIn(ctx, f, node, localPath)
}

// Workers returns the number of chunks transferred in parallel per file.
func (f *PublicFolder) Workers() int {
	return int(f.workers.Load())
}

// SetWorkers sets the number of chunks transferred in parallel per file.
func (f *PublicFolder) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}

	f.workers.Store(int64(workers))
}

// Resume reports whether downloads persist progress so they can be resumed.
func (f *PublicFolder) Resume() bool {
	return f.resume.Load()
}

// SetResume enables or disables resumable downloads.
func (f *PublicFolder) SetResume(enabled bool) {
	f.resume.Store(enabled)
}

func (f *PublicFolder) manager() *Manager {
	return f.m
}

func (f *PublicFolder) channel() channel {
	return channel{folder: f.link.Handle}
}

func (f *PublicFolder) viewID() string {
	return "folder:" + f.link.Handle
}

// The tree of a public folder is never modified after it was opened.
func (f *PublicFolder) readTree(fn func(*tree)) {
	fn(f.tree)
}
