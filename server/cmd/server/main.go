package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/docker/go-units"
	"github.com/megalib/go-mega/server"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "server",
		Usage: "Run a local in-memory storage service for testing clients",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "tls",
				Usage: "Serve over TLS with a self-signed certificate",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "min-app-version",
				Usage: "Reject clients announcing an older app version",
			},
			&cli.StringFlag{
				Name:  "quota",
				Usage: "Storage granted to each account, such as 20GiB",
				Value: "20GiB",
			},
			&cli.IntFlag{
				Name:  "rate-limit",
				Usage: "Answer 429 to a caller's command requests beyond this many per second; 0 disables it",
			},
			&cli.StringSliceFlag{
				Name:  "user",
				Usage: "Create an account, given as email:password",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}

func run(c *cli.Context) error {
	opts := []server.Option{
		server.WithTLS(c.Bool("tls")),
		server.WithLogger(os.Stdout),
	}

	if v := c.String("min-app-version"); v != "" {
		version, err := semver.NewVersion(v)
		if err != nil {
			return fmt.Errorf("invalid app version %q: %w", v, err)
		}

		opts = append(opts, server.WithMinAppVersion(version))
	}

	quota, err := units.RAMInBytes(c.String("quota"))
	if err != nil {
		return fmt.Errorf("invalid quota %q: %w", c.String("quota"), err)
	}

	opts = append(opts, server.WithQuota(quota))

	if limit := c.Int("rate-limit"); limit > 0 {
		opts = append(opts, server.WithRateLimit(limit, time.Second))
	}

	s := server.New(opts...)
	defer s.Close()

	for _, user := range c.StringSlice("user") {
		email, password, ok := cut(user)
		if !ok {
			return fmt.Errorf("invalid user %q, expected email:password", user)
		}

		handle, err := s.CreateUser(email, password, "")
		if err != nil {
			return fmt.Errorf("failed to create user %s: %w", email, err)
		}

		logrus.WithField("email", email).WithField("handle", handle).Info("Created user")
	}

	logrus.WithField("url", s.GetHostURL()).Info("Server is listening")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	<-sig

	return nil
}

// cut splits email:password at its last colon.
func cut(user string) (string, string, bool) {
	i := strings.LastIndex(user, ":")
	if i < 0 {
		return "", "", false
	}

	return user[:i], user[i+1:], true
}
