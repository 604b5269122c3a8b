package mega

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveLoginKey(t *testing.T) {
	salt := MakeSalt([]byte("0123456789abcdef"))

	require.Len(t, salt, 32)

	lk1 := DeriveLoginKey([]byte("password"), salt)
	lk2 := DeriveLoginKey([]byte("password"), salt)

	require.Len(t, lk1.PasswordKey, 16)
	require.Len(t, lk1.UserHash, 16)
	require.Equal(t, lk1, lk2)

	// A different password or client random gives different keys.
	require.NotEqual(t, lk1.UserHash, DeriveLoginKey([]byte("Password"), salt).UserHash)
	require.NotEqual(t, lk1.UserHash, DeriveLoginKey([]byte("password"), MakeSalt([]byte("fedcba9876543210"))).UserHash)
}

func TestEncryptKey(t *testing.T) {
	kek := RandomBytes(16)

	for _, size := range []int{16, 32} {
		key := RandomBytes(size)

		enc, err := EncryptKey(kek, key)
		require.NoError(t, err)
		require.NotEqual(t, key, enc)

		dec, err := DecryptKey(kek, enc)
		require.NoError(t, err)
		require.Equal(t, key, dec)
	}

	_, err := EncryptKey(kek, RandomBytes(20))
	require.ErrorIs(t, err, ErrBadKey)
}

func TestFileKey(t *testing.T) {
	aesKey, nonce, meta := RandomBytes(16), RandomBytes(8), RandomBytes(8)

	key := NewFileKey(aesKey, nonce, meta)

	require.Equal(t, aesKey, key.AESKey())
	require.Equal(t, nonce, key.Nonce())
	require.Equal(t, meta, key.MetaMAC())

	// The stored key is obfuscated with the nonce and MAC.
	require.NotEqual(t, aesKey, key[:16])
}

func TestBase64Decode(t *testing.T) {
	raw := []byte{0xfb, 0xff, 0xfe, 0x01}

	for _, enc := range []string{"-__-AQ", "+//+AQ==", "-__-AQ=="} {
		dec, err := Base64Decode(enc)
		require.NoError(t, err)
		require.Equal(t, raw, dec)
	}

	require.Equal(t, "-__-AQ", Base64Encode(raw))
}

func TestPrivateKey(t *testing.T) {
	priv, err := GenerateKeyPair()
	require.NoError(t, err)

	master := RandomBytes(16)

	enc, err := EncryptPrivateKey(master, priv)
	require.NoError(t, err)

	dec, err := DecryptPrivateKey(master, enc)
	require.NoError(t, err)
	require.True(t, priv.Equal(dec))

	_, err = DecryptPrivateKey(RandomBytes(16), enc)
	require.Error(t, err)

	pub, err := ParsePublicKey(MarshalPublicKey(&priv.PublicKey))
	require.NoError(t, err)

	msg, err := RSAEncrypt(pub, []byte("session id"))
	require.NoError(t, err)

	out, err := RSADecrypt(priv, msg)
	require.NoError(t, err)
	require.Equal(t, []byte("session id"), out)
}

func TestKeyRing_DecryptNodeKey(t *testing.T) {
	master, share := RandomBytes(16), RandomBytes(16)
	key := RandomBytes(32)

	byMaster, err := EncryptKey(master, key)
	require.NoError(t, err)

	byShare, err := EncryptKey(share, key)
	require.NoError(t, err)

	kr := newKeyRing("me", master, nil)

	// Elements wrapped by unknown keys are skipped.
	got, ok, err := kr.DecryptNodeKey("h", "other:"+Base64Encode(byShare)+"/me:"+Base64Encode(byMaster))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key, got)

	_, ok, err = kr.DecryptNodeKey("h", "sh:"+Base64Encode(byShare))
	require.NoError(t, err)
	require.False(t, ok)

	kr.setShareKey("sh", share)

	got, ok, err = kr.DecryptNodeKey("h", "sh:"+Base64Encode(byShare))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, key, got)

	_, _, err = kr.DecryptNodeKey("h", "me:"+Base64Encode(RandomBytes(20)))
	require.ErrorIs(t, err, ErrBadKey)
}
