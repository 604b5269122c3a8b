package mega

import (
	"context"
	"strings"
)

// Quark runs an administrative command on a development server, such as seeding an account.
// Production hosts do not serve it.
func (m *Manager) Quark(ctx context.Context, command string, args ...string) error {
	if _, err := m.r(ctx).SetQueryParam("strInput", strings.Join(args, " ")).Get("/internal/quark/" + command); err != nil {
		return err
	}

	return nil
}
