package mega

import (
	"context"

	"github.com/sirupsen/logrus"
)

// ChangePassword re-wraps the master key under a key derived from newPassword with a fresh
// salt. Node keys are untouched; the session id stays valid.
func (s *Session) ChangePassword(ctx context.Context, newPassword string) error {
	clientRandom := RandomBytes(16)

	lk := DeriveLoginKey([]byte(newPassword), MakeSalt(clientRandom))

	encMaster, err := EncryptKey(lk.PasswordKey, s.master)
	if err != nil {
		return err
	}

	var user string

	if err := s.call(ctx, ChangePasswordReq{
		Action:       "up",
		MasterKey:    Base64Encode(encMaster),
		UserHash:     Base64Encode(lk.UserHash),
		ClientRandom: Base64Encode(clientRandom),
	}, &user); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"pkg":  "go-mega",
		"user": user,
	}).Info("Changed password")

	return nil
}
