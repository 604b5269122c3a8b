package mega

import (
	"context"
	"math/rand"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// Manager is the unauthenticated entry point to the service. It owns the command channel
// and the chunk transfer client, and produces Sessions, PublicFolders and registrations.
type Manager struct {
	// rc is the command channel client.
	rc *resty.Client

	// tc is the (lazy-initialized) client used for chunk transfers. Chunk requests are
	// retried by the transfer engine itself, not by resty.
	tc func() *resty.Client

	// seq is the request sequence number sent with every command batch.
	seq atomic.Uint64

	linkHost     string
	workers      int
	chunkRetries int
	resumeDir    string

	panicHandler PanicHandler
	metrics      *transferMetrics

	// builder is kept so that derived managers (e.g. behind a proxy) share the configuration.
	builder managerBuilder
}

// New returns a new Manager configured with the given options.
func New(opts ...Option) *Manager {
	builder := newManagerBuilder()

	for _, opt := range opts {
		opt.config(builder)
	}

	return builder.build()
}

// Close releases idle connections held by the manager.
func (m *Manager) Close() {
	m.rc.GetClient().CloseIdleConnections()
	m.tc().GetClient().CloseIdleConnections()
}

// LinkHost returns the host used when formatting public links.
func (m *Manager) LinkHost() string {
	return m.linkHost
}

func (m *Manager) r(ctx context.Context) *resty.Request {
	return m.rc.R().SetContext(ctx)
}

func (m *Manager) nextSeq() uint64 {
	return m.seq.Add(1)
}

// nolint:gosec
func randomSeq() uint64 {
	return uint64(rand.Int63n(1 << 32))
}
