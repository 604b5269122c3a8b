package mega

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// resumeVersion is the version of the resume state file format.
const resumeVersion = 1

// resumeState is the persisted progress of one transfer. It is rewritten atomically after
// every chunk that the service acknowledged (uploads) or that reached the local file
// (downloads), so it never lists a chunk that is not durable.
type resumeState struct {
	Version int       `json:"version"`
	Kind    Direction `json:"kind"`

	// Target is the upload URL for uploads and the node handle for downloads.
	Target string `json:"target,omitempty"`
	Size   int64  `json:"size"`

	// Source identifies the local file of an upload (size and modification time).
	Source string `json:"source,omitempty"`

	// Key is the upload's content key and nonce, wrapped under the master key.
	Key            string `json:"key,omitempty"`
	KeyFingerprint string `json:"key_fingerprint,omitempty"`

	// Chunks maps completed chunk indices to their MACs.
	Chunks map[int]string `json:"chunks"`

	// Completion is the completion handle, once the service has returned it.
	Completion string `json:"completion,omitempty"`

	path   string
	master []byte
	lock   sync.Mutex
}

// resumePath names the state file of a transfer from the values identifying it.
func resumePath(dir string, kind Direction, ids ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(ids, "\x00")))

	return filepath.Join(dir, fmt.Sprintf("%s-%s.json", kind, hex.EncodeToString(sum[:12])))
}

// openResume loads the state at path, or starts a new one if none exists.
// A state file that cannot be read back is stale, not silently replaced.
func openResume(path string, kind Direction, master []byte) (*resumeState, error) {
	state := &resumeState{
		Version: resumeVersion,
		Kind:    kind,
		Chunks:  make(map[int]string),
		path:    path,
		master:  master,
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return state, nil
	} else if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	if err := json.Unmarshal(b, state); err != nil {
		return nil, &StaleResumeError{Path: path, Reason: fmt.Sprintf("unreadable: %v", err)}
	}

	if state.Version != resumeVersion || state.Kind != kind {
		return nil, &StaleResumeError{Path: path, Reason: fmt.Sprintf("unexpected %s state version %d", state.Kind, state.Version)}
	}

	if state.Chunks == nil {
		state.Chunks = make(map[int]string)
	}

	return state, nil
}

// bind records the identity of a new transfer, or checks it against a loaded one.
func (s *resumeState) bind(target string, size int64, source string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.Target == "" && s.Size == 0 && len(s.Chunks) == 0 {
		if s.Kind == Download {
			s.Target = target
		}

		s.Size, s.Source = size, source

		return nil
	}

	switch {
	case s.Kind == Download && s.Target != target:
		return &StaleResumeError{Path: s.path, Reason: fmt.Sprintf("state is for node %s, not %s", s.Target, target)}

	case s.Size != size:
		return &StaleResumeError{Path: s.path, Reason: fmt.Sprintf("size changed from %d to %d", s.Size, size)}

	case s.Source != source:
		return &StaleResumeError{Path: s.path, Reason: "local file changed"}
	}

	return nil
}

// check verifies that the state was recorded for a file of this size and key.
func (s *resumeState) check(size int64, keyFP string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.Size != size {
		return &StaleResumeError{Path: s.path, Reason: fmt.Sprintf("size changed from %d to %d", s.Size, size)}
	}

	if s.KeyFingerprint == "" {
		s.KeyFingerprint = keyFP
	} else if s.KeyFingerprint != keyFP {
		return &StaleResumeError{Path: s.path, Reason: "file key changed"}
	}

	return nil
}

// begin records the upload URL and key material of a new upload.
func (s *resumeState) begin(url string, aesKey, nonce []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	packed := make([]byte, 32)
	copy(packed, aesKey)
	copy(packed[16:], nonce)

	enc, err := EncryptKey(s.master, packed)
	if err != nil {
		return err
	}

	s.Target = url
	s.Key = Base64Encode(enc)
	s.KeyFingerprint = keyFingerprint(packed)

	return s.save()
}

// uploadKey recovers the key material of an interrupted upload.
func (s *resumeState) uploadKey() ([]byte, []byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	enc, err := Base64Decode(s.Key)
	if err != nil || len(enc) != 32 {
		return nil, nil, &StaleResumeError{Path: s.path, Reason: "missing upload key"}
	}

	packed, err := DecryptKey(s.master, enc)
	if err != nil || keyFingerprint(packed) != s.KeyFingerprint {
		return nil, nil, &StaleResumeError{Path: s.path, Reason: "upload key does not match"}
	}

	return packed[:16], packed[16:24], nil
}

// seed loads the MACs of completed chunks into macs.
func (s *resumeState) seed(macs *macAccumulator, n int) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	for idx, enc := range s.Chunks {
		raw, err := Base64Decode(enc)
		if err != nil || len(raw) != 16 || idx < 0 || idx >= n {
			return &StaleResumeError{Path: s.path, Reason: fmt.Sprintf("bad record for chunk %d", idx)}
		}

		var mac [16]byte

		copy(mac[:], raw)

		macs.set(idx, mac)
	}

	return nil
}

// markDone records a durable chunk.
func (s *resumeState) markDone(index int, mac [16]byte) error {
	return s.markUploaded(index, mac, "")
}

// markUploaded records a chunk acknowledged by the service, and the completion handle if
// the service returned it.
func (s *resumeState) markUploaded(index int, mac [16]byte, completion string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.Chunks[index] = Base64Encode(mac[:])

	if completion != "" {
		s.Completion = completion
	}

	return s.save()
}

// save writes the state to a temporary file and renames it into place.
func (s *resumeState) save() error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &IOError{Op: "mkdir", Path: filepath.Dir(s.path), Err: err}
	}

	return writeFileAtomic(s.path, b, 0o600)
}

// remove deletes the state once the transfer completed.
func (s *resumeState) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &IOError{Op: "remove", Path: s.path, Err: err}
	}

	return nil
}

// writeFileAtomic replaces path with data so that readers see either the old or the new content.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return &IOError{Op: "create", Path: path, Err: err}
	}

	defer os.Remove(tmp.Name()) // nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write", Path: tmp.Name(), Err: err}
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "sync", Path: tmp.Name(), Err: err}
	}

	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmp.Name(), Err: err}
	}

	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return &IOError{Op: "chmod", Path: tmp.Name(), Err: err}
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}

	return nil
}
