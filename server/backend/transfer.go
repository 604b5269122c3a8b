package backend

import (
	"github.com/megalib/go-mega"
)

// upload collects the ciphertext of one file as its chunks arrive.
type upload struct {
	size     int64
	data     []byte
	received map[int64]int
	total    int64

	// completion is set once every byte arrived.
	completion string
}

type completedUpload struct {
	blob string
	size int64
}

// NewUpload starts an upload of size bytes and returns its id.
func (b *Backend) NewUpload(size int64) (string, error) {
	if size < 0 {
		return "", codeError(mega.BadArguments, "negative size")
	}

	return withXfer(b, func() (string, error) {
		id := newHandle(12, b.uploads)

		b.uploads[id] = &upload{
			size:     size,
			data:     make([]byte, size),
			received: make(map[int64]int),
		}

		return id, nil
	})
}

// PutChunk stores the chunk at offset of an upload. It returns the completion handle once
// every byte has arrived, and an empty string before that.
func (b *Backend) PutChunk(id string, offset int64, data []byte) (string, error) {
	return withXfer(b, func() (string, error) {
		up, ok := b.uploads[id]
		if !ok {
			return "", codeError(mega.NoEntry, "unknown upload %s", id)
		}

		if offset < 0 || offset+int64(len(data)) > up.size {
			return "", codeError(mega.OutOfRange, "chunk at %d of %d bytes exceeds %d", offset, len(data), up.size)
		}

		if prev, ok := up.received[offset]; ok {
			up.total -= int64(prev)
		}

		copy(up.data[offset:], data)

		up.received[offset] = len(data)
		up.total += int64(len(data))

		if up.total == up.size && up.completion == "" {
			blob := newHandle(12, b.blobs)

			b.blobs[blob] = up.data

			up.completion = newHandle(27, b.completed)
			b.completed[up.completion] = blob
		}

		return up.completion, nil
	})
}

// takeCompletion consumes a completion handle, which can be turned into one node only.
func (b *Backend) takeCompletion(handle string) (completedUpload, error) {
	return withXfer(b, func() (completedUpload, error) {
		blob, ok := b.completed[handle]
		if !ok {
			return completedUpload{}, codeError(mega.NoEntry, "unknown completion handle")
		}

		delete(b.completed, handle)

		for id, up := range b.uploads {
			if up.completion == handle {
				delete(b.uploads, id)
			}
		}

		return completedUpload{blob: blob, size: int64(len(b.blobs[blob]))}, nil
	})
}

// GetBlob returns the bytes start to end (inclusive) of stored ciphertext.
func (b *Backend) GetBlob(id string, start, end int64) ([]byte, error) {
	return withXfer(b, func() ([]byte, error) {
		data, ok := b.blobs[id]
		if !ok {
			return nil, codeError(mega.NoEntry, "unknown blob %s", id)
		}

		if start < 0 || end < start || end >= int64(len(data)) {
			return nil, codeError(mega.OutOfRange, "range %d-%d outside %d bytes", start, end, len(data))
		}

		return data[start : end+1], nil
	})
}

// CorruptBlob flips a byte of stored ciphertext so that downloads fail their MAC check.
func (b *Backend) CorruptBlob(id string, offset int64) error {
	_, err := withXfer(b, func() (struct{}, error) {
		data, ok := b.blobs[id]
		if !ok || offset < 0 || offset >= int64(len(data)) {
			return struct{}{}, codeError(mega.NoEntry, "nothing to corrupt at %d", offset)
		}

		data[offset] ^= 0xff

		return struct{}{}, nil
	})

	return err
}

// NewAttrUpload starts the upload of a file attribute of size bytes.
func (b *Backend) NewAttrUpload(size int) (string, error) {
	return withXfer(b, func() (string, error) {
		id := newHandle(12, b.attrUpload)

		b.attrUpload[id] = size

		return id, nil
	})
}

// PutAttr stores a file attribute and returns its handle.
func (b *Backend) PutAttr(id string, data []byte) (string, error) {
	return withXfer(b, func() (string, error) {
		size, ok := b.attrUpload[id]
		if !ok {
			return "", codeError(mega.NoEntry, "unknown attribute upload %s", id)
		}

		if len(data) != size {
			return "", codeError(mega.BadArguments, "attribute has %d bytes, expected %d", len(data), size)
		}

		delete(b.attrUpload, id)

		handle := newHandle(8, b.fileAttrs)

		b.fileAttrs[handle] = data

		return handle, nil
	})
}

// GetAttr returns a stored file attribute.
func (b *Backend) GetAttr(handle string) ([]byte, bool) {
	b.xferLock.Lock()
	defer b.xferLock.Unlock()

	data, ok := b.fileAttrs[handle]

	return data, ok
}

// BlobOf returns the id of the ciphertext stored for a file node.
func (b *Backend) BlobOf(handle string) (string, bool) {
	b.nodeLock.RLock()
	defer b.nodeLock.RUnlock()

	n, ok := b.nodes[handle]
	if !ok || n.typ != mega.FileNode {
		return "", false
	}

	return n.blob, true
}
