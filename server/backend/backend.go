package backend

import (
	"fmt"
	"sync"

	"github.com/megalib/go-mega"
)

// GenerateKey creates account keypairs. Tests replace it with a cached key.
var GenerateKey = mega.GenerateKeyPair

// DefaultQuota is the storage every account is granted unless configured otherwise.
const DefaultQuota = 20 << 30

type Backend struct {
	// quota is the storage granted to each account.
	quota int64

	accounts map[string]*account
	accLock  sync.RWMutex

	// sessions maps session ids to user handles.
	sessions map[string]string

	// pending maps signup keys to registrations awaiting confirmation.
	pending map[string]*registration

	nodes    map[string]*node
	shares   map[string]*share
	links    map[string]string
	seq      int
	nodeLock sync.RWMutex

	uploads    map[string]*upload
	blobs      map[string][]byte
	completed  map[string]string
	fileAttrs  map[string][]byte
	attrUpload map[string]int
	xferLock   sync.Mutex
}

func New(quota int64) *Backend {
	return &Backend{
		quota:      quota,
		accounts:   make(map[string]*account),
		sessions:   make(map[string]string),
		pending:    make(map[string]*registration),
		nodes:      make(map[string]*node),
		shares:     make(map[string]*share),
		links:      make(map[string]string),
		uploads:    make(map[string]*upload),
		blobs:      make(map[string][]byte),
		completed:  make(map[string]string),
		fileAttrs:  make(map[string][]byte),
		attrUpload: make(map[string]int),
	}
}

// newHandle returns a random handle of n bytes not yet used as a key of taken.
func newHandle[T any](n int, taken map[string]T) string {
	for {
		if h := mega.Base64Encode(mega.RandomBytes(n)); !has(taken, h) {
			return h
		}
	}
}

func has[T any](m map[string]T, key string) bool {
	_, ok := m[key]
	return ok
}

// codeError is a failure reported to the client as a protocol code.
func codeError(code mega.Code, format string, args ...any) error {
	return fmt.Errorf("%w: %s", mega.Error{Code: code}, fmt.Sprintf(format, args...))
}

func (b *Backend) withAcc(userHandle string, fn func(acc *account) error) error {
	b.accLock.RLock()
	defer b.accLock.RUnlock()

	acc, ok := b.accounts[userHandle]
	if !ok {
		return codeError(mega.NoEntry, "account %s not found", userHandle)
	}

	return fn(acc)
}

func withAcc[T any](b *Backend, userHandle string, fn func(acc *account) (T, error)) (T, error) {
	b.accLock.RLock()
	defer b.accLock.RUnlock()

	acc, ok := b.accounts[userHandle]
	if !ok {
		return *new(T), codeError(mega.NoEntry, "account %s not found", userHandle)
	}

	return fn(acc)
}

func withAccEmail[T any](b *Backend, email string, fn func(acc *account) (T, error)) (T, error) {
	b.accLock.RLock()
	defer b.accLock.RUnlock()

	acc, ok := b.accByEmail(email)
	if !ok {
		return *new(T), codeError(mega.NoEntry, "account %s not found", email)
	}

	return fn(acc)
}

// accByEmail finds an account by email or handle. The caller holds accLock.
func (b *Backend) accByEmail(user string) (*account, bool) {
	if acc, ok := b.accounts[user]; ok {
		return acc, true
	}

	email := normalize(user)

	for _, acc := range b.accounts {
		if acc.email == email {
			return acc, true
		}
	}

	return nil, false
}

func withNodes[T any](b *Backend, fn func(nodes map[string]*node) (T, error)) (T, error) {
	b.nodeLock.Lock()
	defer b.nodeLock.Unlock()

	return fn(b.nodes)
}

func readNodes[T any](b *Backend, fn func(nodes map[string]*node) (T, error)) (T, error) {
	b.nodeLock.RLock()
	defer b.nodeLock.RUnlock()

	return fn(b.nodes)
}

func withXfer[T any](b *Backend, fn func() (T, error)) (T, error) {
	b.xferLock.Lock()
	defer b.xferLock.Unlock()

	return fn()
}
