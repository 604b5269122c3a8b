package mega

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/bradenaw/juniper/xslices"
	"github.com/sirupsen/logrus"
)

// Session is an authenticated identity. It is safe for concurrent use: calls that change the
// node tree are serialized and hold the tree exclusively across both their network and their
// apply phase, while stat and list share it.
type Session struct {
	m *Manager

	// ownsManager is set when the manager was created for this session alone (e.g. behind a proxy).
	ownsManager bool

	userHandle string
	master     []byte
	priv       *rsa.PrivateKey

	// privk is the private key wrapped under the master key, kept for persistence.
	privk []byte

	sid   string
	email string
	name  string

	idLock sync.RWMutex

	// treeLock guards kr, tree and contacts.
	kr       *keyRing
	tree     *tree
	contacts []Contact
	treeLock sync.RWMutex

	workers  atomic.Int64
	resume   atomic.Bool
	previews atomic.Bool

	closeOnce sync.Once
}

func newSession(m *Manager, auth Auth, priv *rsa.PrivateKey) *Session {
	s := &Session{
		m:          m,
		userHandle: auth.UserHandle,
		master:     auth.MasterKey,
		priv:       priv,
		privk:      auth.PrivateKey,
		sid:        auth.SessionID,
		kr:         newKeyRing(auth.UserHandle, auth.MasterKey, priv),
		tree:       newTree(true),
	}

	s.workers.Store(int64(m.workers))

	return s
}

// Email returns the account email.
func (s *Session) Email() string {
	s.idLock.RLock()
	defer s.idLock.RUnlock()

	return s.email
}

// Name returns the account display name.
func (s *Session) Name() string {
	s.idLock.RLock()
	defer s.idLock.RUnlock()

	return s.name
}

// UserHandle returns the account handle.
func (s *Session) UserHandle() string {
	return s.userHandle
}

// Workers returns the number of chunks transferred in parallel per file.
func (s *Session) Workers() int {
	return int(s.workers.Load())
}

// SetWorkers sets the number of chunks transferred in parallel per file. It applies to
// transfers started afterwards.
func (s *Session) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}

	s.workers.Store(int64(workers))
}

// Resume reports whether transfers persist progress so they can be resumed.
func (s *Session) Resume() bool {
	return s.resume.Load()
}

// SetResume enables or disables resumable transfers.
func (s *Session) SetResume(enabled bool) {
	s.resume.Store(enabled)
}

// Previews reports whether uploads of images also upload a thumbnail.
func (s *Session) Previews() bool {
	return s.previews.Load()
}

// EnablePreviews enables or disables thumbnail generation on upload.
func (s *Session) EnablePreviews(enabled bool) {
	s.previews.Store(enabled)
}

func (s *Session) channel() channel {
	s.idLock.RLock()
	defer s.idLock.RUnlock()

	return channel{sid: s.sid}
}

func (s *Session) api(ctx context.Context, cmds ...any) ([]json.RawMessage, error) {
	out, err := s.m.api(ctx, s.channel(), cmds...)
	if err != nil {
		return nil, s.checkSession(err)
	}

	return out, nil
}

func (s *Session) call(ctx context.Context, cmd, res any) error {
	if err := s.m.call(ctx, s.channel(), cmd, res); err != nil {
		return s.checkSession(err)
	}

	return nil
}

// checkSession reports a rejected session id as an AuthError.
func (s *Session) checkSession(err error) error {
	if IsCode(err, BadSession) {
		return &AuthError{Email: s.Email(), Err: err}
	}

	return err
}

// Refresh fetches the whole node set of the account and rebuilds the tree. Nodes that cannot
// be attached to a root are skipped and reported by Orphans. Refresh fails with a SyncError
// only when no usable tree could be built; the previous tree is then kept.
func (s *Session) Refresh(ctx context.Context) error {
	s.treeLock.Lock()
	defer s.treeLock.Unlock()

	var res FetchNodesRes

	if err := s.call(ctx, FetchNodesReq{Action: "f", C: 1, Recurse: 1}, &res); err != nil {
		return err
	}

	kr := newKeyRing(s.userHandle, s.master, s.priv)

	for _, sk := range res.ShareKeys {
		key, err := kr.unwrapShareKey(sk.Key)
		if err != nil {
			return &SyncError{Err: err}
		}

		kr.setShareKey(sk.Handle, key)
	}

	t, err := buildTree(res.Nodes, kr, isAccountRoot, true)
	if err != nil {
		return &SyncError{Err: err}
	}

	if xslices.IndexFunc(t.roots, func(h string) bool { return t.nodes[h].Type == RootNode }) < 0 {
		return &SyncError{Orphans: t.orphans, Err: errors.New("no root container")}
	}

	s.kr = kr
	s.tree = t
	s.contacts = xslices.Map(res.Contacts, func(c ContactRecord) Contact {
		return Contact{Handle: c.Handle, Email: c.Email, Visibility: c.Visibility}
	})

	logrus.WithFields(logrus.Fields{
		"pkg":     "go-mega",
		"nodes":   len(t.nodes),
		"orphans": len(t.orphans),
	}).Info("Refreshed node tree")

	return nil
}

// isAccountRoot selects the entry points of an account's tree: its root containers and the
// roots of folders shared with it.
func isAccountRoot(rec NodeRecord) bool {
	return rec.Type.rootName() != "" || rec.SharingUser != ""
}

// Stat returns the node at path. The boolean is false if no node exists there.
func (s *Session) Stat(path string) (Node, bool) {
	return statIn(s, path)
}

// List returns the children of the folder at path, or its whole subtree in pre-order when
// recursive. "/" lists the root containers.
func (s *Session) List(path string, recursive bool) ([]Node, error) {
	return listIn(s, path, recursive)
}

// Diagnostics describes the nodes the last refresh had to skip.
type Diagnostics struct {
	// Orphans are nodes whose parent was not part of the fetched node set.
	Orphans []string

	// Undecryptable are nodes (with their subtrees) for which no key was available.
	Undecryptable []string
}

// Diagnostics returns what the last refresh skipped.
func (s *Session) Diagnostics() Diagnostics {
	s.treeLock.RLock()
	defer s.treeLock.RUnlock()

	return Diagnostics{
		Orphans:       append([]string(nil), s.tree.orphans...),
		Undecryptable: append([]string(nil), s.tree.undecryptable...),
	}
}

// Orphans returns the handles of nodes skipped by the last refresh because their parent was missing.
func (s *Session) Orphans() []string {
	return s.Diagnostics().Orphans
}

// ListContacts returns the visible contacts of the account as of the last refresh.
func (s *Session) ListContacts() []Contact {
	s.treeLock.RLock()
	defer s.treeLock.RUnlock()

	return xslices.Filter(s.contacts, func(c Contact) bool { return c.Visibility == VisibleContact })
}

// Logout invalidates the session id on the service and closes the session.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.call(ctx, LogoutReq{Action: "sml"}, nil); err != nil {
		return err
	}

	s.idLock.Lock()
	s.sid = ""
	s.idLock.Unlock()

	s.Close()

	return nil
}

// Close releases resources held by the session. The session id stays valid on the service.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.ownsManager {
			s.m.Close()
		}
	})
}
