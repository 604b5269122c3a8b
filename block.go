package mega

import (
	"context"
	"fmt"
	"strings"
)

// getChunk fetches the ciphertext of c from a download URL.
func (m *Manager) getChunk(ctx context.Context, url string, c Chunk) ([]byte, error) {
	if c.Size == 0 {
		return nil, nil
	}

	res, err := m.tc().R().SetContext(ctx).Get(fmt.Sprintf("%s/%d-%d", url, c.Offset, c.End()))
	if err != nil {
		return nil, err
	}

	if len(res.Body()) != c.Size {
		return nil, fmt.Errorf("short chunk %d: got %d of %d bytes", c.Index, len(res.Body()), c.Size)
	}

	return res.Body(), nil
}

// putChunk sends the ciphertext of the chunk at offset to an upload URL. Once every byte of
// the file has arrived the service answers with the completion handle; until then it is empty.
func (m *Manager) putChunk(ctx context.Context, url string, offset int64, data []byte) (string, error) {
	res, err := m.tc().R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Post(fmt.Sprintf("%s/%d", url, offset))
	if err != nil {
		return "", err
	}

	if code, ok := parseCode(res.Body()); ok {
		return "", Error{Code: code}
	}

	return strings.TrimSpace(string(res.Body())), nil
}

// putAttr uploads an encrypted file attribute blob and returns its handle.
func (m *Manager) putAttr(ctx context.Context, url string, data []byte) (string, error) {
	handle, err := m.putChunk(ctx, url, 0, data)
	if err != nil {
		return "", err
	}

	if handle == "" {
		return "", fmt.Errorf("file attribute upload returned no handle")
	}

	return handle, nil
}
