package mega

import (
	"context"
	"crypto/rsa"
)

func (s *Session) fetchUser(ctx context.Context) error {
	var user User

	if err := s.call(ctx, UserReq{Action: "ug"}, &user); err != nil {
		return err
	}

	s.idLock.Lock()
	defer s.idLock.Unlock()

	s.email = user.Email
	s.name = user.Name

	return nil
}

// Quota fetches the storage usage of the account. It is never cached.
func (s *Session) Quota(ctx context.Context) (Quota, error) {
	var res QuotaRes

	if err := s.call(ctx, QuotaReq{Action: "uq", Storage: 1}, &res); err != nil {
		return Quota{}, err
	}

	return Quota{Total: res.Total, Used: res.Used}, nil
}

// GetPublicKey fetches the public key of another account, by email or user handle.
func (s *Session) GetPublicKey(ctx context.Context, user string) (string, *rsa.PublicKey, error) {
	var res PublicKeyRes

	if err := s.call(ctx, PublicKeyReq{Action: "uk", User: user}, &res); err != nil {
		return "", nil, err
	}

	pub, err := ParsePublicKey(res.PublicKey)
	if err != nil {
		return "", nil, err
	}

	return res.Handle, pub, nil
}
