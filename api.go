package mega

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// channel identifies the caller of a command batch: a session id for an account, or the
// handle of a public folder being browsed.
type channel struct {
	sid    string
	folder string
}

// api sends cmds as one batch on the command channel and returns one raw result per command.
// A request-level error code fails the whole batch.
func (m *Manager) api(ctx context.Context, ch channel, cmds ...any) ([]json.RawMessage, error) {
	req := m.r(ctx).
		SetQueryParam("id", strconv.FormatUint(m.nextSeq(), 10)).
		SetHeader("Content-Type", "application/json").
		SetBody(cmds)

	if ch.sid != "" {
		req.SetQueryParam("sid", ch.sid)
	}

	if ch.folder != "" {
		req.SetQueryParam("n", ch.folder)
	}

	res, err := req.Post("/cs")
	if err != nil {
		return nil, err
	}

	if code, ok := parseCode(res.Body()); ok {
		return nil, Error{Code: code}
	}

	var out []json.RawMessage

	if err := json.Unmarshal(res.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode command response: %w", err)
	}

	if len(out) != len(cmds) {
		return nil, fmt.Errorf("expected %d command results, got %d", len(cmds), len(out))
	}

	return out, nil
}

// call sends a single command and decodes its result into res (which may be nil).
func (m *Manager) call(ctx context.Context, ch channel, cmd, res any) error {
	out, err := m.api(ctx, ch, cmd)
	if err != nil {
		return err
	}

	return decodeResult(out[0], res)
}
