package mega

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// loginKeyRounds is the number of PBKDF2 iterations used to stretch a password.
	loginKeyRounds = 100000

	// saltPadding is prepended (padded with 'P' to 200 bytes) to the client random when deriving a salt.
	saltPadding = "mega.nz"

	// rsaKeyBits is the size of account keypairs.
	rsaKeyBits = 2048
)

// LoginKey is the result of stretching an account password.
type LoginKey struct {
	// PasswordKey wraps the account master key. It never leaves the client.
	PasswordKey []byte

	// UserHash authenticates the account to the service.
	UserHash []byte
}

// DeriveLoginKey stretches password with the account salt. The result is deterministic.
func DeriveLoginKey(password, salt []byte) LoginKey {
	dk := pbkdf2.Key(password, salt, loginKeyRounds, 32, sha512.New)

	return LoginKey{
		PasswordKey: dk[:16],
		UserHash:    dk[16:],
	}
}

// MakeSalt derives an account salt from the client random chosen at registration.
func MakeSalt(clientRandom []byte) []byte {
	pad := saltPadding + strings.Repeat("P", 200-len(saltPadding))

	sum := sha256.Sum256(append([]byte(pad), clientRandom...))

	return sum[:]
}

// RandomBytes returns n bytes from the system CSPRNG.
func RandomBytes(n int) []byte {
	b := make([]byte, n)

	if _, err := rand.Read(b); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %w", err))
	}

	return b
}

// Base64Encode encodes b in the unpadded URL-safe alphabet used on the wire.
func Base64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64Decode decodes s, accepting padded input and the standard alphabet.
func Base64Decode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_", ",", "").Replace(s)

	return base64.RawURLEncoding.DecodeString(s)
}

// EncryptKey wraps key under kek with AES-128 in ECB mode, one 16-byte block at a time.
func EncryptKey(kek, key []byte) ([]byte, error) {
	return ecb(kek, key, true)
}

// DecryptKey unwraps a key previously wrapped with EncryptKey.
func DecryptKey(kek, enc []byte) ([]byte, error) {
	return ecb(kek, enc, false)
}

func ecb(kek, in []byte, encrypt bool) ([]byte, error) {
	if len(in) == 0 || len(in)%aes.BlockSize != 0 {
		return nil, &CryptoError{Op: "key", Err: fmt.Errorf("%w: length %d", ErrBadKey, len(in))}
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, &CryptoError{Op: "key", Err: err}
	}

	out := make([]byte, len(in))

	for i := 0; i < len(in); i += aes.BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+aes.BlockSize], in[i:i+aes.BlockSize])
		} else {
			block.Decrypt(out[i:i+aes.BlockSize], in[i:i+aes.BlockSize])
		}
	}

	return out, nil
}

// FileKey is the 32-byte key of a file node: an obfuscated AES key, the CTR nonce and the meta-MAC.
type FileKey [32]byte

// NewFileKey packs the parts of a file key.
func NewFileKey(aesKey, nonce, metaMAC []byte) FileKey {
	var k FileKey

	copy(k[16:24], nonce)
	copy(k[24:32], metaMAC)

	for i := 0; i < 16; i++ {
		k[i] = aesKey[i] ^ k[16+i]
	}

	return k
}

// AESKey returns the content and attribute key.
func (k FileKey) AESKey() []byte {
	out := make([]byte, 16)

	for i := range out {
		out[i] = k[i] ^ k[16+i]
	}

	return out
}

// Nonce returns the CTR nonce.
func (k FileKey) Nonce() []byte {
	return append([]byte(nil), k[16:24]...)
}

// MetaMAC returns the condensed MAC the content must match.
func (k FileKey) MetaMAC() []byte {
	return append([]byte(nil), k[24:32]...)
}

// attrKey returns the key used for a node's attributes: files use the derived AES key.
func attrKey(key []byte) []byte {
	if len(key) == 32 {
		return FileKey(key).AESKey()
	}

	return key
}

// keyFingerprint identifies key material without revealing it.
func keyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)

	return Base64Encode(sum[:8])
}

// EncryptPrivateKey wraps an RSA private key under the master key.
// The DER encoding is length prefixed and zero padded to the AES block size.
func EncryptPrivateKey(master []byte, priv *rsa.PrivateKey) ([]byte, error) {
	der := x509.MarshalPKCS1PrivateKey(priv)

	buf := make([]byte, 4+len(der))
	binary.BigEndian.PutUint32(buf, uint32(len(der)))
	copy(buf[4:], der)

	if pad := len(buf) % aes.BlockSize; pad != 0 {
		buf = append(buf, make([]byte, aes.BlockSize-pad)...)
	}

	return EncryptKey(master, buf)
}

// DecryptPrivateKey unwraps a private key wrapped with EncryptPrivateKey.
func DecryptPrivateKey(master, enc []byte) (*rsa.PrivateKey, error) {
	buf, err := DecryptKey(master, enc)
	if err != nil {
		return nil, &CryptoError{Op: "private key", Err: err}
	}

	n := int(binary.BigEndian.Uint32(buf))
	if n <= 0 || n > len(buf)-4 {
		return nil, &CryptoError{Op: "private key", Err: ErrBadKey}
	}

	priv, err := x509.ParsePKCS1PrivateKey(buf[4 : 4+n])
	if err != nil {
		return nil, &CryptoError{Op: "private key", Err: fmt.Errorf("%w: %v", ErrBadKey, err)}
	}

	return priv, nil
}

// MarshalPublicKey encodes a public key for the wire.
func MarshalPublicKey(pub *rsa.PublicKey) string {
	return Base64Encode(x509.MarshalPKCS1PublicKey(pub))
}

// ParsePublicKey decodes a public key received from the wire.
func ParsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := Base64Decode(s)
	if err != nil {
		return nil, &CryptoError{Op: "public key", Err: err}
	}

	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, &CryptoError{Op: "public key", Err: err}
	}

	return pub, nil
}

// RSAEncrypt encrypts a short secret (a share key or session id) for pub.
func RSAEncrypt(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, msg, nil)
}

// RSADecrypt decrypts a secret encrypted with RSAEncrypt.
func RSADecrypt(priv *rsa.PrivateKey, enc []byte) ([]byte, error) {
	msg, err := rsa.DecryptOAEP(sha256.New(), nil, priv, enc, nil)
	if err != nil {
		return nil, &CryptoError{Op: "rsa", Err: fmt.Errorf("%w: %v", ErrBadKey, err)}
	}

	return msg, nil
}

// GenerateKeyPair creates a new account keypair.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, rsaKeyBits)
}

// keyRing holds every key a view of the tree can unwrap node keys with:
// the account master key and private key for a session, or a link key for a public folder.
type keyRing struct {
	userHandle string
	master     []byte
	priv       *rsa.PrivateKey

	// shareKeys maps a share root handle to its share key.
	shareKeys map[string][]byte
}

func newKeyRing(userHandle string, master []byte, priv *rsa.PrivateKey) *keyRing {
	return &keyRing{
		userHandle: userHandle,
		master:     master,
		priv:       priv,
		shareKeys:  make(map[string][]byte),
	}
}

func newLinkKeyRing(rootHandle string, linkKey []byte) *keyRing {
	return &keyRing{
		shareKeys: map[string][]byte{rootHandle: linkKey},
	}
}

// setShareKey records a share key for the share rooted at handle.
func (kr *keyRing) setShareKey(handle string, key []byte) {
	kr.shareKeys[handle] = key
}

// shareKey returns the share key for the share rooted at handle, if known.
func (kr *keyRing) shareKey(handle string) ([]byte, bool) {
	key, ok := kr.shareKeys[handle]

	return key, ok
}

// unwrapShareKey decrypts a share key delivered either under the master key or under the account keypair.
func (kr *keyRing) unwrapShareKey(enc string) ([]byte, error) {
	raw, err := Base64Decode(enc)
	if err != nil {
		return nil, &CryptoError{Op: "share key", Err: err}
	}

	if len(raw) == 16 && kr.master != nil {
		return DecryptKey(kr.master, raw)
	}

	if kr.priv == nil {
		return nil, &CryptoError{Op: "share key", Err: ErrBadKey}
	}

	return RSADecrypt(kr.priv, raw)
}

// DecryptNodeKey unwraps the key of a node from its key list ("h1:key1/h2:key2").
// The first element wrapped by a key the ring holds is used. ok is false when the
// ring holds none of the wrapping keys.
func (kr *keyRing) DecryptNodeKey(handle, keys string) (key []byte, ok bool, err error) {
	for _, elem := range strings.Split(keys, "/") {
		owner, enc, found := strings.Cut(elem, ":")
		if !found {
			continue
		}

		var kek []byte

		if owner == kr.userHandle && kr.master != nil {
			kek = kr.master
		} else if sk, ok := kr.shareKeys[owner]; ok {
			kek = sk
		} else {
			continue
		}

		raw, err := Base64Decode(enc)
		if err != nil {
			return nil, false, &CryptoError{Op: "key", Handle: handle, Err: fmt.Errorf("%w: %v", ErrBadKey, err)}
		}

		if len(raw) != 16 && len(raw) != 32 {
			return nil, false, &CryptoError{Op: "key", Handle: handle, Err: fmt.Errorf("%w: length %d", ErrBadKey, len(raw))}
		}

		key, err := DecryptKey(kek, raw)
		if err != nil {
			return nil, false, &CryptoError{Op: "key", Handle: handle, Err: err}
		}

		return key, true, nil
	}

	return nil, false, nil
}
