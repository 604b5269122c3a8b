package mega_test

import (
	"context"
	"testing"

	"github.com/megalib/go-mega"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	calls := watchCalls(s, "/cs")

	state, err := m.Register(context.Background(), " New@Example.com ", testPassword, "New User")
	require.NoError(t, err)
	require.Equal(t, "new@example.com", state.Email)
	require.Equal(t, mega.RegistrationCreated, state.Status())
	require.NotEmpty(t, state.TempHandle)

	for _, call := range calls.all() {
		require.NotContains(t, string(call.RequestBody), testPassword)
	}

	// The account cannot log in before it is verified.
	_, err = m.Login(context.Background(), "new@example.com", testPassword)
	require.Error(t, err)

	// The state survives a round trip through its serialized form.
	restored, err := mega.DeserializeRegistration(state.Serialize())
	require.NoError(t, err)
	require.Equal(t, state.Email, restored.Email)
	require.Equal(t, state.TempHandle, restored.TempHandle)
	require.Equal(t, mega.RegistrationCreated, restored.Status())

	key, ok := s.GetSignupKey("new@example.com")
	require.True(t, ok)

	// A wrong key leaves the registration pending.
	require.Error(t, m.VerifyRegistration(context.Background(), restored, "wrong"))
	require.Equal(t, mega.RegistrationCreated, restored.Status())

	require.NoError(t, m.VerifyRegistration(context.Background(), restored, key))
	require.Equal(t, mega.RegistrationVerified, restored.Status())
	require.NotEmpty(t, restored.UserHandle)

	require.ErrorIs(t, m.VerifyRegistration(context.Background(), restored, key), mega.ErrAlreadyVerified)

	sess := login(t, m, "new@example.com", testPassword)
	require.Equal(t, restored.UserHandle, sess.UserHandle())
	require.Equal(t, "New User", sess.Name())

	_, ok = sess.Stat("/Root")
	require.True(t, ok)
}

func TestRegister_Existing(t *testing.T) {
	s := newTestServer(t)
	m := newTestManager(t, s)

	_, err := s.CreateUser(testEmail, testPassword, "user")
	require.NoError(t, err)

	_, err = m.Register(context.Background(), testEmail, testPassword, "user")
	require.True(t, mega.IsCode(err, mega.AlreadyExists))

	_, err = m.Register(context.Background(), "", testPassword, "user")
	require.Error(t, err)
}

func TestDeserializeRegistration_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"{}",
		`{"version":1}`,
		`{"version":2,"email":"a@b.c","temp_handle":"x"}`,
		`{"version":1,"email":"a@b.c","temp_handle":"x","client_random":"AAAA"}`,
	} {
		_, err := mega.DeserializeRegistration(s)
		require.Error(t, err, s)
	}
}
