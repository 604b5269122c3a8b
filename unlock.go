package mega

import (
	"crypto/rsa"
	"fmt"
)

// Unlock unwraps the account keys delivered at login with the password key and recovers the
// session id, which the service only ever sends encrypted for the account keypair.
func Unlock(res LoginRes, passwordKey []byte) (Auth, *rsa.PrivateKey, error) {
	encMaster, err := Base64Decode(res.MasterKey)
	if err != nil {
		return Auth{}, nil, &CryptoError{Op: "master key", Err: err}
	}

	if len(encMaster) != 16 {
		return Auth{}, nil, &CryptoError{Op: "master key", Err: fmt.Errorf("%w: length %d", ErrBadKey, len(encMaster))}
	}

	master, err := DecryptKey(passwordKey, encMaster)
	if err != nil {
		return Auth{}, nil, err
	}

	encPriv, err := Base64Decode(res.PrivateKey)
	if err != nil {
		return Auth{}, nil, &CryptoError{Op: "private key", Err: err}
	}

	priv, err := DecryptPrivateKey(master, encPriv)
	if err != nil {
		return Auth{}, nil, fmt.Errorf("failed to unlock private key: %w", err)
	}

	encSID, err := Base64Decode(res.SessionID)
	if err != nil {
		return Auth{}, nil, &CryptoError{Op: "session id", Err: err}
	}

	sid, err := RSADecrypt(priv, encSID)
	if err != nil {
		return Auth{}, nil, &CryptoError{Op: "session id", Err: err}
	}

	return Auth{
		UserHandle: res.UserHandle,
		SessionID:  Base64Encode(sid),
		MasterKey:  master,
		PrivateKey: encPriv,
	}, priv, nil
}
