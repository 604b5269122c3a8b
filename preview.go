package mega

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

const (
	// thumbnailSize is the edge of the square thumbnail attached to image uploads.
	thumbnailSize = 240

	thumbnailQuality = 80

	// thumbnailAttr is the file attribute type of thumbnails.
	thumbnailAttr = 0
)

var previewExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// hasPreview reports whether a file of this name gets a thumbnail.
func hasPreview(name string) bool {
	return previewExts[strings.ToLower(filepath.Ext(name))]
}

// makeThumbnail renders a square JPEG thumbnail of the image read from r.
func makeThumbnail(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	thumb := imaging.Fill(img, thumbnailSize, thumbnailSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer

	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}

// startPreview renders the thumbnail of src in the background.
func (m *Manager) startPreview(ctx context.Context, src io.ReaderAt, size int64) *Future[[]byte] {
	return NewFuture(ctx, m.panicHandler, func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return makeThumbnail(io.NewSectionReader(src, 0, size))
	})
}

// uploadPreview encrypts a thumbnail with the file's content key and uploads it, returning the
// file attribute string to store on the node.
func (m *Manager) uploadPreview(ctx context.Context, ch channel, key FileKey, thumb []byte) (string, error) {
	block, err := aes.NewCipher(key.AESKey())
	if err != nil {
		return "", &CryptoError{Op: "preview", Err: err}
	}

	buf := append([]byte(nil), thumb...)

	if pad := len(buf) % aes.BlockSize; pad != 0 {
		buf = append(buf, make([]byte, aes.BlockSize-pad)...)
	}

	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(buf, buf)

	var res UploadURLRes

	if err := m.call(ctx, ch, AttrUploadReq{Action: "ufa", Size: len(buf)}, &res); err != nil {
		return "", err
	}

	handle, err := m.putAttr(ctx, res.URL, buf)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d*%s", thumbnailAttr, handle), nil
}
