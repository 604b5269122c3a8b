package mega

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Upload uploads the local file at localPath into the folder at remoteFolder, naming it after
// the local file. With resume enabled it behaves like UploadResumable.
func (s *Session) Upload(ctx context.Context, localPath, remoteFolder string) (Node, error) {
	return s.uploadFile(ctx, localPath, remoteFolder, s.Resume())
}

// UploadResumable is Upload with progress persisted after every acknowledged chunk. Calling it
// again for the same file and folder after a failure only sends the missing chunks. If the
// local file changed in between, it fails with a StaleResumeError naming the state file.
func (s *Session) UploadResumable(ctx context.Context, localPath, remoteFolder string) (Node, error) {
	return s.uploadFile(ctx, localPath, remoteFolder, true)
}

// UploadReader uploads size bytes read from r as a file called name in the folder at remoteFolder.
func (s *Session) UploadReader(ctx context.Context, r io.ReaderAt, size int64, name, remoteFolder string) (Node, error) {
	parent, err := s.folderHandle(remoteFolder)
	if err != nil {
		return Node{}, err
	}

	return s.uploadFrom(ctx, r, size, name, "", parent, nil)
}

func (s *Session) uploadFile(ctx context.Context, localPath, remoteFolder string, resumable bool) (Node, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return Node{}, &IOError{Op: "open", Path: localPath, Err: err}
	}

	defer f.Close() // nolint:errcheck

	fi, err := f.Stat()
	if err != nil {
		return Node{}, &IOError{Op: "stat", Path: localPath, Err: err}
	} else if fi.IsDir() {
		return Node{}, &IOError{Op: "open", Path: localPath, Err: errors.New("is a directory")}
	}

	parent, err := s.folderHandle(remoteFolder)
	if err != nil {
		return Node{}, err
	}

	fingerprint := localFingerprint(fi)

	var state *resumeState

	if resumable {
		abs, err := filepath.Abs(localPath)
		if err != nil {
			return Node{}, &IOError{Op: "abs", Path: localPath, Err: err}
		}

		if state, err = openResume(resumePath(s.m.resumeDir, Upload, s.userHandle, abs, parent), Upload, s.master); err != nil {
			return Node{}, err
		}

		if err := state.bind("", fi.Size(), fingerprint); err != nil {
			return Node{}, err
		}
	}

	node, err := s.uploadFrom(ctx, f, fi.Size(), filepath.Base(localPath), fingerprint, parent, state)
	if err != nil {
		return Node{}, err
	}

	if state != nil {
		if err := state.remove(); err != nil {
			logrus.WithError(err).WithField("pkg", "go-mega").Warn("Failed to remove resume state")
		}
	}

	return node, nil
}

func (s *Session) uploadFrom(ctx context.Context, src io.ReaderAt, size int64, name, fingerprint, parent string, state *resumeState) (Node, error) {
	var preview *Future[[]byte]

	if s.Previews() && hasPreview(name) {
		preview = s.m.startPreview(ctx, src, size)
	}

	res, err := s.m.upload(ctx, s.channel(), uploadJob{
		src:     src,
		size:    size,
		workers: s.Workers(),
		state:   state,
	})
	if err != nil {
		if preview != nil {
			preview.Cancel()
		}

		return Node{}, s.checkSession(err)
	}

	var fileAttrs string

	if preview != nil {
		fileAttrs = s.attachPreview(ctx, preview, res.key)
	}

	return s.putFile(ctx, parent, name, fingerprint, res, fileAttrs)
}

// attachPreview uploads the rendered thumbnail. Failures are logged, never returned: a missing
// preview does not fail the upload.
func (s *Session) attachPreview(ctx context.Context, preview *Future[[]byte], key FileKey) string {
	thumb, err := preview.Get()
	if err != nil {
		logrus.WithError(err).WithField("pkg", "go-mega").Warn("Failed to render preview")
		return ""
	}

	fa, err := s.m.uploadPreview(ctx, s.channel(), key, thumb)
	if err != nil {
		logrus.WithError(err).WithField("pkg", "go-mega").Warn("Failed to upload preview")
		return ""
	}

	return fa
}

// putFile turns a completed upload into a node under parent.
func (s *Session) putFile(ctx context.Context, parent, name, fingerprint string, res uploadResult, fileAttrs string) (Node, error) {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	if _, ok := s.tree.get(parent); !ok {
		return Node{}, &NotFoundError{Path: parent}
	}

	attrs, err := EncryptAttributes(res.key[:], Attributes{Name: name, Fingerprint: fingerprint})
	if err != nil {
		return Node{}, err
	}

	encKey, err := EncryptKey(s.master, res.key[:])
	if err != nil {
		return Node{}, err
	}

	req := PutNodesReq{
		Action: "p",
		Target: parent,
		Nodes: []NewNode{{
			Handle:    res.completion,
			Type:      FileNode,
			Attrs:     attrs,
			Key:       Base64Encode(encKey),
			FileAttrs: fileAttrs,
		}},
		Shares: s.shareEntries(parent, map[string][]byte{res.completion: res.key[:]}),
	}

	var put PutNodesRes

	if err := s.call(ctx, req, &put); err != nil {
		return Node{}, err
	}

	nodes, err := s.applyPut(put)
	if err != nil {
		return Node{}, err
	}

	return nodes[0], nil
}

// Download writes the content of node to w. Writers implementing io.WriterAt receive chunks at
// their offsets as they complete; others receive the file in order. On IntegrityError,
// whatever was written must be discarded.
func (s *Session) Download(ctx context.Context, node Node, w io.Writer) error {
	return s.checkSession(downloadIn(ctx, s, node, w))
}

// DownloadFile downloads the file at remotePath to localPath.
func (s *Session) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	node, ok := s.Stat(remotePath)
	if !ok {
		return &NotFoundError{Path: remotePath}
	}

	return s.DownloadToFile(ctx, node, localPath)
}

// DownloadToFile downloads node to localPath through a ".part" file renamed on success. With
// resume enabled, an interrupted download keeps its partial file and only fetches the
// missing chunks when called again.
func (s *Session) DownloadToFile(ctx context.Context, node Node, localPath string) error {
	return s.checkSession(downloadToFileIn(ctx, s, node, localPath))
}

// folderHandle resolves path to a folder handle under the read lock.
func (s *Session) folderHandle(path string) (string, error) {
	s.treeLock.RLock()
	defer s.treeLock.RUnlock()

	node, err := s.folderAt(path)
	if err != nil {
		return "", err
	}

	return node.Handle, nil
}

func newDownloadJob(node Node, workers int) (downloadJob, error) {
	if !node.IsFile() {
		return downloadJob{}, fmt.Errorf("%s: is a folder", node.Name)
	}

	if len(node.key) != 32 {
		return downloadJob{}, &CryptoError{Op: "key", Handle: node.Handle, Err: ErrBadKey}
	}

	return downloadJob{
		handle:  node.Handle,
		req:     DownloadURLReq{Action: "g", G: 1, Node: node.Handle},
		key:     FileKey(node.key),
		workers: workers,
	}, nil
}

// downloadToFile runs job into localPath+".part" and renames it into place once the MAC
// matched. ids identify the caller for the resume state.
func (m *Manager) downloadToFile(ctx context.Context, ch channel, job downloadJob, size int64, localPath string, resume bool, ids ...string) (err error) {
	part := localPath + ".part"
	flags := os.O_CREATE | os.O_WRONLY

	if resume {
		abs, err := filepath.Abs(localPath)
		if err != nil {
			return &IOError{Op: "abs", Path: localPath, Err: err}
		}

		state, err := openResume(resumePath(m.resumeDir, Download, append(ids, job.handle, abs)...), Download, nil)
		if err != nil {
			return err
		}

		if err := state.bind(job.handle, size, ""); err != nil {
			return err
		}

		if len(state.Chunks) > 0 {
			if _, err := os.Stat(part); errors.Is(err, fs.ErrNotExist) {
				return &StaleResumeError{Path: state.path, Reason: "partial file is missing"}
			}
		} else {
			// Nothing of a leftover partial file belongs to this transfer.
			flags |= os.O_TRUNC
		}

		job.state = state
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return &IOError{Op: "open", Path: part, Err: err}
	}

	job.sink = fileSink{f: f, durable: job.state != nil}

	err = m.download(ctx, ch, job)

	if err == nil {
		if terr := f.Truncate(size); terr != nil {
			err = &IOError{Op: "truncate", Path: part, Err: terr}
		}
	}

	if cerr := f.Close(); err == nil && cerr != nil {
		err = &IOError{Op: "close", Path: part, Err: cerr}
	}

	if err != nil {
		// Output that failed the MAC check is never kept, resumable or not.
		if !resume || errors.Is(err, ErrIntegrity) {
			_ = os.Remove(part)

			if job.state != nil {
				_ = job.state.remove()
			}
		}

		return err
	}

	if err := os.Rename(part, localPath); err != nil {
		return &IOError{Op: "rename", Path: localPath, Err: err}
	}

	if job.state != nil {
		return job.state.remove()
	}

	return nil
}

// syncWriterAt is a file that chunks are written into positionally.
type syncWriterAt interface {
	io.WriterAt
	Sync() error
}

// fileSink writes chunks at their offsets. When durable, every chunk is flushed to disk before
// the resume state can record it as done.
type fileSink struct {
	f       syncWriterAt
	durable bool
}

func (s fileSink) writeChunk(c Chunk, data []byte) error {
	if _, err := s.f.WriteAt(data, c.Offset); err != nil {
		return err
	}

	if s.durable {
		return s.f.Sync()
	}

	return nil
}

// localFingerprint identifies the content of a local file by its size and modification time.
func localFingerprint(fi fs.FileInfo) string {
	return fmt.Sprintf("%d:%d", fi.Size(), fi.ModTime().UnixNano())
}
