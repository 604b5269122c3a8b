package mega

type RegisterReq struct {
	Action string `json:"a"`
	Name   string `json:"n"`
	Email  string `json:"m"`

	// ClientRandom seeds the account salt.
	ClientRandom string `json:"crv"`

	// MasterKey is the master key wrapped under the password key.
	MasterKey string `json:"k"`

	// UserHash is the hash future logins authenticate with.
	UserHash string `json:"hak"`

	PrivateKey string `json:"privk"`
	PublicKey  string `json:"pubk"`
}

type VerifyReq struct {
	Action    string `json:"a"`
	SignupKey string `json:"c"`
}

// VerifyRes is delivered as [email, name, user handle].
type VerifyRes []string

// RegistrationStatus is the state of a registration.
type RegistrationStatus int

const (
	// RegistrationCreated means the account was requested and awaits its signup key.
	RegistrationCreated RegistrationStatus = iota

	// RegistrationVerified means the account is confirmed and can log in.
	RegistrationVerified
)

func (s RegistrationStatus) String() string {
	switch s {
	case RegistrationCreated:
		return "created"

	case RegistrationVerified:
		return "verified"

	default:
		return "unknown"
	}
}
