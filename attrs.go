package mega

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// attrMarker prefixes every plaintext attribute blob; a wrong key will not reproduce it.
const attrMarker = "MEGA"

// Attributes are the encrypted metadata of a node.
type Attributes struct {
	Name        string `json:"n"`
	Fingerprint string `json:"c,omitempty"`
}

// EncryptAttributes encrypts attrs under a node key (16-byte folder key or 32-byte file key).
func EncryptAttributes(key []byte, attrs Attributes) (string, error) {
	attrs.Name = norm.NFC.String(attrs.Name)

	b, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}

	buf := append([]byte(attrMarker), b...)

	if pad := len(buf) % aes.BlockSize; pad != 0 {
		buf = append(buf, make([]byte, aes.BlockSize-pad)...)
	}

	block, err := aes.NewCipher(attrKey(key))
	if err != nil {
		return "", &CryptoError{Op: "attributes", Err: err}
	}

	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(buf, buf)

	return Base64Encode(buf), nil
}

// DecryptAttributes decrypts an attribute blob. A blob that does not decrypt to the
// marker under key is reported as ErrBadKey.
func DecryptAttributes(key []byte, enc string) (Attributes, error) {
	buf, err := Base64Decode(enc)
	if err != nil {
		return Attributes{}, &CryptoError{Op: "attributes", Err: err}
	}

	if len(buf) == 0 || len(buf)%aes.BlockSize != 0 {
		return Attributes{}, &CryptoError{Op: "attributes", Err: fmt.Errorf("%w: blob length %d", ErrBadKey, len(buf))}
	}

	block, err := aes.NewCipher(attrKey(key))
	if err != nil {
		return Attributes{}, &CryptoError{Op: "attributes", Err: err}
	}

	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(buf, buf)

	if !bytes.HasPrefix(buf, []byte(attrMarker+"{")) {
		return Attributes{}, &CryptoError{Op: "attributes", Err: ErrBadKey}
	}

	var attrs Attributes

	if err := json.Unmarshal(bytes.TrimRight(buf[len(attrMarker):], "\x00"), &attrs); err != nil {
		return Attributes{}, &CryptoError{Op: "attributes", Err: fmt.Errorf("%w: %v", ErrBadKey, err)}
	}

	attrs.Name = norm.NFC.String(attrs.Name)

	return attrs, nil
}
