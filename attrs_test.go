package mega

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttributes(t *testing.T) {
	for _, key := range [][]byte{RandomBytes(16), RandomBytes(32)} {
		enc, err := EncryptAttributes(key, Attributes{Name: "report.pdf", Fingerprint: "12:34"})
		require.NoError(t, err)

		attrs, err := DecryptAttributes(key, enc)
		require.NoError(t, err)
		require.Equal(t, Attributes{Name: "report.pdf", Fingerprint: "12:34"}, attrs)
	}
}

func TestAttributes_WrongKey(t *testing.T) {
	enc, err := EncryptAttributes(RandomBytes(16), Attributes{Name: "secret"})
	require.NoError(t, err)

	_, err = DecryptAttributes(RandomBytes(16), enc)
	require.ErrorIs(t, err, ErrBadKey)

	var cryptoErr *CryptoError
	require.ErrorAs(t, err, &cryptoErr)
	require.Equal(t, "attributes", cryptoErr.Op)
}

func TestAttributes_Malformed(t *testing.T) {
	_, err := DecryptAttributes(RandomBytes(16), Base64Encode(RandomBytes(15)))
	require.ErrorIs(t, err, ErrBadKey)

	_, err = DecryptAttributes(RandomBytes(16), "")
	require.ErrorIs(t, err, ErrBadKey)
}

func TestAttributes_NormalizesNames(t *testing.T) {
	key := RandomBytes(16)

	// "é" as "e" followed by a combining acute accent.
	enc, err := EncryptAttributes(key, Attributes{Name: "cafe\u0301"})
	require.NoError(t, err)

	attrs, err := DecryptAttributes(key, enc)
	require.NoError(t, err)
	require.Equal(t, "caf\u00e9", attrs.Name)
}
