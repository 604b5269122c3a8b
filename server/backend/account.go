package backend

import (
	"crypto/rsa"
	"strings"
	"time"

	"github.com/bradenaw/juniper/xslices"
	"github.com/google/uuid"
	"github.com/megalib/go-mega"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type account struct {
	userHandle string
	email      string
	name       string
	since      int64

	salt     []byte
	userHash string

	// masterKey is wrapped under the password key, privk under the master key.
	masterKey string
	privk     string
	pubk      string
	pub       *rsa.PublicKey

	root, inbox, rubbish string

	contacts []string
}

func (acc *account) toUser() mega.User {
	return mega.User{
		Handle: acc.userHandle,
		Email:  acc.email,
		Name:   acc.name,
		Since:  acc.since,
	}
}

// registration is an account requested with uc2 that awaits its signup key.
type registration struct {
	handle string
	email  string
	name   string
	req    mega.RegisterReq
}

// CreateUser creates a confirmed account, deriving its keys the way a client registering
// with password would.
func (b *Backend) CreateUser(email, password, name string) (string, error) {
	clientRandom := mega.RandomBytes(16)

	lk := mega.DeriveLoginKey([]byte(password), mega.MakeSalt(clientRandom))

	master := mega.RandomBytes(16)

	priv, err := GenerateKey()
	if err != nil {
		return "", err
	}

	privk, err := mega.EncryptPrivateKey(master, priv)
	if err != nil {
		return "", err
	}

	encMaster, err := mega.EncryptKey(lk.PasswordKey, master)
	if err != nil {
		return "", err
	}

	return b.createAccount(mega.RegisterReq{
		Name:         name,
		Email:        email,
		ClientRandom: mega.Base64Encode(clientRandom),
		MasterKey:    mega.Base64Encode(encMaster),
		UserHash:     mega.Base64Encode(lk.UserHash),
		PrivateKey:   mega.Base64Encode(privk),
		PublicKey:    mega.MarshalPublicKey(&priv.PublicKey),
	})
}

func (b *Backend) createAccount(req mega.RegisterReq) (string, error) {
	clientRandom, err := mega.Base64Decode(req.ClientRandom)
	if err != nil {
		return "", codeError(mega.BadArguments, "bad client random")
	}

	pub, err := mega.ParsePublicKey(req.PublicKey)
	if err != nil {
		return "", codeError(mega.BadArguments, "bad public key")
	}

	b.accLock.Lock()
	defer b.accLock.Unlock()

	email := normalize(req.Email)

	if _, ok := b.accByEmail(email); ok {
		return "", codeError(mega.AlreadyExists, "account %s exists", email)
	}

	acc := &account{
		userHandle: newHandle(8, b.accounts),
		email:      email,
		name:       req.Name,
		since:      time.Now().Unix(),
		salt:       mega.MakeSalt(clientRandom),
		userHash:   req.UserHash,
		masterKey:  req.MasterKey,
		privk:      req.PrivateKey,
		pubk:       req.PublicKey,
		pub:        pub,
	}

	if _, err := withNodes(b, func(nodes map[string]*node) (struct{}, error) {
		acc.root = b.newContainer(acc.userHandle, mega.RootNode)
		acc.inbox = b.newContainer(acc.userHandle, mega.InboxNode)
		acc.rubbish = b.newContainer(acc.userHandle, mega.RubbishNode)

		return struct{}{}, nil
	}); err != nil {
		return "", err
	}

	b.accounts[acc.userHandle] = acc

	return acc.userHandle, nil
}

// AddContact makes two accounts visible contacts of each other.
func (b *Backend) AddContact(userHandle, email string) error {
	b.accLock.Lock()
	defer b.accLock.Unlock()

	acc, ok := b.accounts[userHandle]
	if !ok {
		return codeError(mega.NoEntry, "account %s not found", userHandle)
	}

	other, ok := b.accByEmail(normalize(email))
	if !ok {
		return codeError(mega.NoEntry, "account %s not found", email)
	}

	if !slices.Contains(acc.contacts, other.userHandle) {
		acc.contacts = append(acc.contacts, other.userHandle)
	}

	if !slices.Contains(other.contacts, acc.userHandle) {
		other.contacts = append(other.contacts, acc.userHandle)
	}

	return nil
}

// PreLogin returns the login version and salt of an account.
func (b *Backend) PreLogin(email string) (mega.PreLoginRes, error) {
	return withAccEmail(b, normalize(email), func(acc *account) (mega.PreLoginRes, error) {
		return mega.PreLoginRes{Version: 2, Salt: mega.Base64Encode(acc.salt)}, nil
	})
}

// Login checks the user hash and opens a session. The session id is returned encrypted for
// the account's public key.
func (b *Backend) Login(email, userHash string) (mega.LoginRes, error) {
	b.accLock.Lock()
	defer b.accLock.Unlock()

	acc, ok := b.accByEmail(normalize(email))
	if !ok {
		return mega.LoginRes{}, codeError(mega.NoEntry, "account %s not found", email)
	}

	if acc.userHash != userHash {
		return mega.LoginRes{}, codeError(mega.NoEntry, "wrong password for %s", email)
	}

	sid := uuid.New()

	csid, err := mega.RSAEncrypt(acc.pub, sid[:])
	if err != nil {
		return mega.LoginRes{}, err
	}

	b.sessions[mega.Base64Encode(sid[:])] = acc.userHandle

	return mega.LoginRes{
		MasterKey:  acc.masterKey,
		PrivateKey: acc.privk,
		SessionID:  mega.Base64Encode(csid),
		UserHandle: acc.userHandle,
	}, nil
}

// VerifySession returns the user handle a session id belongs to.
func (b *Backend) VerifySession(sid string) (string, error) {
	b.accLock.RLock()
	defer b.accLock.RUnlock()

	userHandle, ok := b.sessions[sid]
	if !ok {
		return "", codeError(mega.BadSession, "unknown session")
	}

	return userHandle, nil
}

// Logout closes a session.
func (b *Backend) Logout(sid string) {
	b.accLock.Lock()
	defer b.accLock.Unlock()

	delete(b.sessions, sid)
}

// RevokeSessions closes every session of an account.
func (b *Backend) RevokeSessions(userHandle string) {
	b.accLock.Lock()
	defer b.accLock.Unlock()

	for _, sid := range maps.Keys(b.sessions) {
		if b.sessions[sid] == userHandle {
			delete(b.sessions, sid)
		}
	}
}

// GetUser returns the public details of an account.
func (b *Backend) GetUser(userHandle string) (mega.User, error) {
	return withAcc(b, userHandle, func(acc *account) (mega.User, error) {
		return acc.toUser(), nil
	})
}

// GetPublicKey returns the public key of the account registered under user (an email or a handle).
func (b *Backend) GetPublicKey(user string) (mega.PublicKeyRes, error) {
	return withAccEmail(b, user, func(acc *account) (mega.PublicKeyRes, error) {
		return mega.PublicKeyRes{Handle: acc.userHandle, PublicKey: acc.pubk}, nil
	})
}

// ChangePassword replaces the login credentials of an account.
func (b *Backend) ChangePassword(userHandle string, req mega.ChangePasswordReq) (string, error) {
	clientRandom, err := mega.Base64Decode(req.ClientRandom)
	if err != nil || len(clientRandom) == 0 {
		return "", codeError(mega.BadArguments, "bad client random")
	}

	if enc, err := mega.Base64Decode(req.MasterKey); err != nil || len(enc) != 16 {
		return "", codeError(mega.BadArguments, "bad master key")
	}

	b.accLock.Lock()
	defer b.accLock.Unlock()

	acc, ok := b.accounts[userHandle]
	if !ok {
		return "", codeError(mega.NoEntry, "account %s not found", userHandle)
	}

	acc.salt = mega.MakeSalt(clientRandom)
	acc.userHash = req.UserHash
	acc.masterKey = req.MasterKey

	return acc.userHandle, nil
}

// Quota returns the storage granted to and used by an account.
func (b *Backend) Quota(userHandle string) (mega.QuotaRes, error) {
	root, err := withAcc(b, userHandle, func(acc *account) ([]string, error) {
		return []string{acc.root, acc.inbox, acc.rubbish}, nil
	})
	if err != nil {
		return mega.QuotaRes{}, err
	}

	return readNodes(b, func(nodes map[string]*node) (mega.QuotaRes, error) {
		var used int64

		for _, r := range root {
			for _, n := range b.subtree(r) {
				used += n.size
			}
		}

		return mega.QuotaRes{Total: b.quota, Used: used}, nil
	})
}

// Contacts returns the contact records of an account, itself included.
func (b *Backend) Contacts(userHandle string) ([]mega.ContactRecord, error) {
	return withAcc(b, userHandle, func(acc *account) ([]mega.ContactRecord, error) {
		out := []mega.ContactRecord{{Handle: acc.userHandle, Email: acc.email, Visibility: mega.SelfContact}}

		return append(out, xslices.Map(acc.contacts, func(h string) mega.ContactRecord {
			return mega.ContactRecord{Handle: h, Email: b.accounts[h].email, Visibility: mega.VisibleContact}
		})...), nil
	})
}

// Register records a pending account and returns its temporary handle. The account becomes
// usable once confirmed with the signup key.
func (b *Backend) Register(req mega.RegisterReq) (string, error) {
	if _, err := mega.ParsePublicKey(req.PublicKey); err != nil {
		return "", codeError(mega.BadArguments, "bad public key")
	}

	b.accLock.Lock()
	defer b.accLock.Unlock()

	email := normalize(req.Email)

	if _, ok := b.accByEmail(email); ok {
		return "", codeError(mega.AlreadyExists, "account %s exists", email)
	}

	for key, reg := range b.pending {
		if reg.email == email {
			delete(b.pending, key)
		}
	}

	reg := &registration{
		handle: newHandle(8, b.accounts),
		email:  email,
		name:   req.Name,
		req:    req,
	}

	b.pending[uuid.NewString()] = reg

	return reg.handle, nil
}

// GetSignupKey returns the signup key that would be emailed to a pending registration.
func (b *Backend) GetSignupKey(email string) (string, bool) {
	b.accLock.RLock()
	defer b.accLock.RUnlock()

	for key, reg := range b.pending {
		if reg.email == normalize(email) {
			return key, true
		}
	}

	return "", false
}

// ConfirmRegistration turns the registration behind signupKey into an account.
func (b *Backend) ConfirmRegistration(signupKey string) (mega.VerifyRes, error) {
	b.accLock.Lock()

	reg, ok := b.pending[signupKey]
	if ok {
		delete(b.pending, signupKey)
	}

	b.accLock.Unlock()

	if !ok {
		return nil, codeError(mega.NoEntry, "unknown signup key")
	}

	userHandle, err := b.createAccount(reg.req)
	if err != nil {
		return nil, err
	}

	return mega.VerifyRes{reg.email, reg.name, userHandle}, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
