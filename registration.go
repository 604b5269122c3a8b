package mega

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// registrationVersion is the version of the serialized registration format.
const registrationVersion = 1

// RegistrationState carries an account between Register and VerifyRegistration. Every key is
// derived client-side by Register; the state serializes so the two steps may run in
// different processes.
type RegistrationState struct {
	Email string
	Name  string

	// TempHandle is the handle the service issued for the pending account.
	TempHandle string

	// UserHandle is set once the registration was verified.
	UserHandle string

	clientRandom []byte
	passwordKey  []byte
	userHash     []byte
	masterKey    []byte

	// privk is the private key wrapped under the master key.
	privk  []byte
	pubk   string
	status RegistrationStatus

	lock sync.Mutex
}

// Status returns where the registration stands.
func (r *RegistrationState) Status() RegistrationStatus {
	r.lock.Lock()
	defer r.lock.Unlock()

	return r.status
}

// Register requests a new account. The master key, keypair and login key are derived before
// anything is sent; the password itself never leaves the client.
func (m *Manager) Register(ctx context.Context, email, password, name string) (*RegistrationState, error) {
	email = normalizeEmail(email)

	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	clientRandom := RandomBytes(16)

	lk := DeriveLoginKey([]byte(password), MakeSalt(clientRandom))

	master := RandomBytes(16)

	priv, err := GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privk, err := EncryptPrivateKey(master, priv)
	if err != nil {
		return nil, err
	}

	encMaster, err := EncryptKey(lk.PasswordKey, master)
	if err != nil {
		return nil, err
	}

	state := &RegistrationState{
		Email:        email,
		Name:         name,
		clientRandom: clientRandom,
		passwordKey:  lk.PasswordKey,
		userHash:     lk.UserHash,
		masterKey:    master,
		privk:        privk,
		pubk:         MarshalPublicKey(&priv.PublicKey),
	}

	if err := m.call(ctx, channel{}, RegisterReq{
		Action:       "uc2",
		Name:         name,
		Email:        email,
		ClientRandom: Base64Encode(clientRandom),
		MasterKey:    Base64Encode(encMaster),
		UserHash:     Base64Encode(lk.UserHash),
		PrivateKey:   Base64Encode(privk),
		PublicKey:    state.pubk,
	}, &state.TempHandle); err != nil {
		return nil, fmt.Errorf("failed to register %s: %w", email, err)
	}

	logrus.WithFields(logrus.Fields{
		"pkg":    "go-mega",
		"handle": state.TempHandle,
	}).Info("Registration created")

	return state, nil
}

// VerifyRegistration confirms a registration with the signup key delivered out of band.
// A rejected key leaves the state as it was, so the call can be retried with another key.
func (m *Manager) VerifyRegistration(ctx context.Context, state *RegistrationState, signupKey string) error {
	state.lock.Lock()
	defer state.lock.Unlock()

	if state.status == RegistrationVerified {
		return ErrAlreadyVerified
	}

	var res VerifyRes

	if err := m.call(ctx, channel{}, VerifyReq{Action: "ud2", SignupKey: signupKey}, &res); err != nil {
		return fmt.Errorf("failed to verify registration of %s: %w", state.Email, err)
	}

	if len(res) < 3 {
		return fmt.Errorf("unexpected verification response with %d fields", len(res))
	}

	if normalizeEmail(res[0]) != state.Email {
		return fmt.Errorf("signup key belongs to %s, not %s", res[0], state.Email)
	}

	state.UserHandle = res[2]
	state.status = RegistrationVerified

	logrus.WithFields(logrus.Fields{
		"pkg":  "go-mega",
		"user": state.UserHandle,
	}).Info("Registration verified")

	return nil
}

type registrationFile struct {
	Version      int                `json:"version"`
	Status       RegistrationStatus `json:"status"`
	Email        string             `json:"email"`
	Name         string             `json:"name"`
	TempHandle   string             `json:"temp_handle"`
	UserHandle   string             `json:"user_handle,omitempty"`
	ClientRandom string             `json:"client_random"`
	PasswordKey  string             `json:"password_key"`
	UserHash     string             `json:"user_hash"`
	MasterKey    string             `json:"master_key"`
	PrivateKey   string             `json:"private_key"`
	PublicKey    string             `json:"public_key"`
}

// Serialize encodes the full state, including its derived keys.
func (r *RegistrationState) Serialize() string {
	r.lock.Lock()
	defer r.lock.Unlock()

	b, err := json.Marshal(registrationFile{
		Version:      registrationVersion,
		Status:       r.status,
		Email:        r.Email,
		Name:         r.Name,
		TempHandle:   r.TempHandle,
		UserHandle:   r.UserHandle,
		ClientRandom: Base64Encode(r.clientRandom),
		PasswordKey:  Base64Encode(r.passwordKey),
		UserHash:     Base64Encode(r.userHash),
		MasterKey:    Base64Encode(r.masterKey),
		PrivateKey:   Base64Encode(r.privk),
		PublicKey:    r.pubk,
	})
	if err != nil {
		panic(err)
	}

	return string(b)
}

// DeserializeRegistration decodes a state encoded with Serialize.
func DeserializeRegistration(s string) (*RegistrationState, error) {
	var file registrationFile

	if err := json.Unmarshal([]byte(s), &file); err != nil {
		return nil, fmt.Errorf("invalid registration state: %w", err)
	}

	if file.Version != registrationVersion {
		return nil, fmt.Errorf("unsupported registration state version %d", file.Version)
	}

	if file.Email == "" || file.TempHandle == "" {
		return nil, errors.New("invalid registration state: missing email or handle")
	}

	if file.Status != RegistrationCreated && file.Status != RegistrationVerified {
		return nil, fmt.Errorf("invalid registration state: status %d", file.Status)
	}

	state := &RegistrationState{
		Email:      file.Email,
		Name:       file.Name,
		TempHandle: file.TempHandle,
		UserHandle: file.UserHandle,
		pubk:       file.PublicKey,
		status:     file.Status,
	}

	for _, field := range []struct {
		name string
		enc  string
		dst  *[]byte
		size int
	}{
		{"client random", file.ClientRandom, &state.clientRandom, 16},
		{"password key", file.PasswordKey, &state.passwordKey, 16},
		{"user hash", file.UserHash, &state.userHash, 16},
		{"master key", file.MasterKey, &state.masterKey, 16},
		{"private key", file.PrivateKey, &state.privk, 0},
	} {
		raw, err := Base64Decode(field.enc)
		if err != nil || len(raw) == 0 || (field.size > 0 && len(raw) != field.size) {
			return nil, fmt.Errorf("invalid registration state: bad %s", field.name)
		}

		*field.dst = raw
	}

	if _, err := DecryptPrivateKey(state.masterKey, state.privk); err != nil {
		return nil, fmt.Errorf("invalid registration state: %w", err)
	}

	return state, nil
}
