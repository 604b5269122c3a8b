package mega

import (
	"context"
	"io"
)

// view is a decrypted node tree together with the channel its nodes are fetched on. An
// account session and a public folder are both views; they only differ in where the keys
// of their tree came from.
type view interface {
	manager() *Manager
	channel() channel

	// viewID distinguishes the resume state of different views downloading the same node.
	viewID() string

	// readTree runs fn with the tree locked for reading.
	readTree(fn func(*tree))

	Workers() int
	Resume() bool
}

func statIn(v view, path string) (node Node, ok bool) {
	v.readTree(func(t *tree) { node, ok = t.stat(path) })

	return node, ok
}

func listIn(v view, path string, recursive bool) (nodes []Node, err error) {
	v.readTree(func(t *tree) { nodes, err = t.list(path, recursive) })

	return nodes, err
}

func downloadIn(ctx context.Context, v view, node Node, w io.Writer) error {
	job, err := newDownloadJob(node, v.Workers())
	if err != nil {
		return err
	}

	job.sink = sinkFor(w)

	return v.manager().download(ctx, v.channel(), job)
}

func downloadToFileIn(ctx context.Context, v view, node Node, localPath string) error {
	job, err := newDownloadJob(node, v.Workers())
	if err != nil {
		return err
	}

	return v.manager().downloadToFile(ctx, v.channel(), job, node.Size, localPath, v.Resume(), v.viewID())
}

func (s *Session) manager() *Manager {
	return s.m
}

func (s *Session) viewID() string {
	return s.userHandle
}

func (s *Session) readTree(fn func(*tree)) {
	s.treeLock.RLock()
	defer s.treeLock.RUnlock()

	fn(s.tree)
}
