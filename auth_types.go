package mega

// loginVersion is the only account version supported: PBKDF2 login keys with a per-account salt.
const loginVersion = 2

type PreLoginReq struct {
	Action string `json:"a"`
	User   string `json:"user"`
}

type PreLoginRes struct {
	Version int    `json:"v"`
	Salt    string `json:"s"`
}

type LoginReq struct {
	Action   string `json:"a"`
	User     string `json:"user"`
	UserHash string `json:"uh"`
}

type LoginRes struct {
	// MasterKey is the account master key wrapped under the password key.
	MasterKey string `json:"k"`

	// PrivateKey is the account private key wrapped under the master key.
	PrivateKey string `json:"privk"`

	// SessionID is the session id encrypted for the account keypair.
	SessionID string `json:"csid"`

	UserHandle string `json:"u"`
}

type LogoutReq struct {
	Action string `json:"a"`
}

type ChangePasswordReq struct {
	Action string `json:"a"`

	// MasterKey is the master key wrapped under the new password key.
	MasterKey string `json:"k"`

	// UserHash authenticates future logins with the new password.
	UserHash string `json:"uh"`

	// ClientRandom seeds the new salt.
	ClientRandom string `json:"crv"`
}

// Auth is the credential material established by a login.
type Auth struct {
	UserHandle string
	SessionID  string
	MasterKey  []byte

	// PrivateKey is kept wrapped under the master key, as delivered.
	PrivateKey []byte
}
