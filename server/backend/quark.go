package backend

import (
	"flag"
	"fmt"
)

// RunQuarkCommand runs an administrative command against the backend. It lets a standalone
// server be seeded without going through the registration flow.
func (b *Backend) RunQuarkCommand(command string, args ...string) (any, error) {
	switch command {
	case "user:create":
		return b.quarkUserCreate(args...)

	case "user:contact":
		return b.quarkUserContact(args...)

	case "signup:key":
		return b.quarkSignupKey(args...)

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

func (b *Backend) quarkUserCreate(args ...string) (string, error) {
	fs := flag.NewFlagSet("user:create", flag.ContinueOnError)

	// Required arguments.
	email := fs.String("email", "", "new user's email")
	pass := fs.String("password", "", "new user's password")

	// Optional arguments.
	name := fs.String("name", "", "new user's display name")

	if err := fs.Parse(args); err != nil {
		return "", err
	}

	if *email == "" || *pass == "" {
		return "", fmt.Errorf("email and password are required")
	}

	return b.CreateUser(*email, *pass, *name)
}

func (b *Backend) quarkUserContact(args ...string) (string, error) {
	fs := flag.NewFlagSet("user:contact", flag.ContinueOnError)

	// Required arguments.
	// arg0: user handle
	// arg1: contact email

	if err := fs.Parse(args); err != nil {
		return "", err
	}

	if err := b.AddContact(fs.Arg(0), fs.Arg(1)); err != nil {
		return "", err
	}

	return fs.Arg(1), nil
}

func (b *Backend) quarkSignupKey(args ...string) (string, error) {
	fs := flag.NewFlagSet("signup:key", flag.ContinueOnError)

	// Required arguments.
	// arg0: email

	if err := fs.Parse(args); err != nil {
		return "", err
	}

	key, ok := b.GetSignupKey(fs.Arg(0))
	if !ok {
		return "", fmt.Errorf("no pending registration for %s", fs.Arg(0))
	}

	return key, nil
}
