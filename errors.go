package mega

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("no such file or folder")
	ErrExists           = errors.New("already exists")
	ErrNotContainer     = errors.New("not a folder")
	ErrBadKey           = errors.New("wrong or malformed key")
	ErrIntegrity        = errors.New("integrity check failed")
	ErrStaleResume      = errors.New("resume state does not match transfer")
	ErrCorruptSession   = errors.New("corrupt session file")
	ErrBadLink          = errors.New("invalid public link")
	ErrAlreadyVerified  = errors.New("registration already verified")
	ErrUnsupportedLogin = errors.New("unsupported account version")
)

// AuthError is returned when the service rejects credentials or a session id.
type AuthError struct {
	Email string
	Err   error
}

func (e *AuthError) Error() string {
	if e.Email == "" {
		return fmt.Sprintf("authentication failed: %v", e.Err)
	}

	return fmt.Sprintf("authentication failed for %s: %v", e.Email, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// CryptoError is returned when key material cannot be unwrapped or decrypted.
type CryptoError struct {
	Op     string // "key", "attributes", "private key", "session id", ...
	Handle string // Node handle, if applicable
	Err    error
}

func (e *CryptoError) Error() string {
	if e.Handle != "" {
		return fmt.Sprintf("crypto error: %s of %s: %v", e.Op, e.Handle, e.Err)
	}

	return fmt.Sprintf("crypto error: %s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when the condensed MAC of a transferred file does not match
// the MAC carried in the file's key. Output written before the check must not be trusted.
type IntegrityError struct {
	Handle   string
	Expected []byte
	Actual   []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: expected mac %x, got %x", e.Handle, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrity
}

// NotFoundError is returned when a path or handle does not resolve.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// SyncError is returned when a tree fetch could not produce a usable tree.
// Orphans lists the handles that could not be attached to any root.
type SyncError struct {
	Orphans []string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync failed (%d orphans): %v", len(e.Orphans), e.Err)
	}

	return fmt.Sprintf("sync incomplete: %d orphaned nodes", len(e.Orphans))
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// TransferError is returned when a chunk could not be transferred after all retries.
type TransferError struct {
	Handle   string
	Chunk    int
	Offset   int64
	Attempts int
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer of %s failed at chunk %d (offset %d) after %d attempts: %v", e.Handle, e.Chunk, e.Offset, e.Attempts, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// StaleResumeError is returned when persisted resume state no longer describes the transfer.
type StaleResumeError struct {
	Path   string
	Reason string
}

func (e *StaleResumeError) Error() string {
	return fmt.Sprintf("stale resume state %s: %s", e.Path, e.Reason)
}

func (e *StaleResumeError) Unwrap() error {
	return ErrStaleResume
}

// CorruptSessionError is returned when a persisted session fails validation.
type CorruptSessionError struct {
	Path   string
	Reason string
	Err    error
}

func (e *CorruptSessionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt session file %s: %s: %v", e.Path, e.Reason, e.Err)
	}

	return fmt.Sprintf("corrupt session file %s: %s", e.Path, e.Reason)
}

func (e *CorruptSessionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCorruptSession}
	}

	return []error{ErrCorruptSession, e.Err}
}

// IOError is returned when a local file or sink cannot be read or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("io error: %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("io error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
