package mega

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// gate allows or refuses one kind of network activity, optionally up to a budget.
type gate struct {
	open  atomic.Bool
	limit atomic.Uint64
}

// NetCtl simulates network conditions for connections made by its Dialers: it can refuse
// dials, reads and writes, cap how much traffic gets through, and observe the traffic.
type NetCtl struct {
	dial, read, write gate

	onDial  []func(net.Conn)
	onRead  []func([]byte)
	onWrite []func([]byte)

	lock sync.RWMutex
}

// NewNetCtl returns a controller that lets everything through.
func NewNetCtl() *NetCtl {
	ctl := &NetCtl{}

	ctl.Enable()

	return ctl
}

// SetCanDial sets whether new connections can be made.
func (c *NetCtl) SetCanDial(canDial bool) { c.dial.open.Store(canDial) }

// SetCanRead sets whether connections can read.
func (c *NetCtl) SetCanRead(canRead bool) { c.read.open.Store(canRead) }

// SetCanWrite sets whether connections can write.
func (c *NetCtl) SetCanWrite(canWrite bool) { c.write.open.Store(canWrite) }

// SetDialLimit caps the number of dials each Dialer makes from now on; 0 removes the cap.
func (c *NetCtl) SetDialLimit(limit uint64) { c.dial.limit.Store(limit) }

// SetReadLimit caps the bytes each Dialer's connections read from now on; 0 removes the cap.
func (c *NetCtl) SetReadLimit(limit uint64) { c.read.limit.Store(limit) }

// SetWriteLimit caps the bytes each Dialer's connections write from now on; 0 removes the cap.
func (c *NetCtl) SetWriteLimit(limit uint64) { c.write.limit.Store(limit) }

// Disable refuses every dial, read and write.
func (c *NetCtl) Disable() {
	c.SetCanDial(false)
	c.SetCanRead(false)
	c.SetCanWrite(false)
}

// Enable allows every dial, read and write.
func (c *NetCtl) Enable() {
	c.SetCanDial(true)
	c.SetCanRead(true)
	c.SetCanWrite(true)
}

// OnDial registers f to be called with every new connection.
func (c *NetCtl) OnDial(f func(net.Conn)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onDial = append(c.onDial, f)
}

// OnRead registers f to be called with the bytes of every successful read.
func (c *NetCtl) OnRead(f func([]byte)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onRead = append(c.onRead, f)
}

// OnWrite registers f to be called with the bytes of every successful write.
func (c *NetCtl) OnWrite(f func([]byte)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onWrite = append(c.onWrite, f)
}

func (c *NetCtl) notify(hooks *[]func([]byte), b []byte) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for _, f := range *hooks {
		f(b)
	}
}

// meter counts the activity that went through a gate. Counting only starts once the gate
// has a limit.
type meter struct {
	gate *gate
	name string
	used atomic.Uint64
}

// admit refuses activity once the gate is closed or its budget is spent.
func (m *meter) admit() error {
	if !m.gate.open.Load() {
		return fmt.Errorf("cannot %s", m.name)
	}

	if limit := m.gate.limit.Load(); limit > 0 && m.used.Load() >= limit {
		return fmt.Errorf("refusing to %s: %s limit reached", m.name, m.name)
	}

	return nil
}

// spend records n units of activity and fails if that exhausted the budget.
func (m *meter) spend(n uint64) error {
	limit := m.gate.limit.Load()
	if limit == 0 {
		return nil
	}

	if m.used.Add(n) >= limit {
		return fmt.Errorf("%s failed: %s limit reached", m.name, m.name)
	}

	return nil
}

// Dialer makes connections subject to a NetCtl. Budgets are shared by all its connections.
type Dialer struct {
	ctl       *NetCtl
	tlsConfig *tls.Config

	dials, reads, writes *meter
}

// NewDialer returns a dialer controlled by ctl. tlsConfig is used for TLS connections.
func NewDialer(ctl *NetCtl, tlsConfig *tls.Config) *Dialer {
	return &Dialer{
		ctl:       ctl,
		tlsConfig: tlsConfig,

		dials:  &meter{gate: &ctl.dial, name: "dial"},
		reads:  &meter{gate: &ctl.read, name: "read"},
		writes: &meter{gate: &ctl.write, name: "write"},
	}
}

// DialContext dials a plain connection.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dialWith(ctx, &net.Dialer{}, network, addr)
}

// DialTLSContext dials a TLS connection.
func (d *Dialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dialWith(ctx, &tls.Dialer{Config: d.tlsConfig}, network, addr)
}

// GetRoundTripper returns an http.RoundTripper whose connections go through the dialer.
func (d *Dialer) GetRoundTripper() http.RoundTripper {
	return &http.Transport{
		DialContext:     d.DialContext,
		DialTLSContext:  d.DialTLSContext,
		TLSClientConfig: d.tlsConfig,
	}
}

func (d *Dialer) dialWith(ctx context.Context, dialer interface {
	DialContext(context.Context, string, string) (net.Conn, error)
}, network, addr string,
) (net.Conn, error) {
	if err := d.dials.admit(); err != nil {
		return nil, err
	}

	if d.dials.gate.limit.Load() > 0 {
		d.dials.used.Add(1)
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	d.ctl.lock.RLock()
	defer d.ctl.lock.RUnlock()

	for _, f := range d.ctl.onDial {
		f(conn)
	}

	return &meteredConn{Conn: conn, d: d}, nil
}

// meteredConn is a connection whose reads and writes are subject to the dialer's NetCtl.
type meteredConn struct {
	net.Conn

	d *Dialer
}

func (c *meteredConn) Read(b []byte) (int, error) {
	if err := c.d.reads.admit(); err != nil {
		return 0, err
	}

	n, err := c.Conn.Read(b)
	if err != nil {
		return n, err
	}

	if err := c.d.reads.spend(uint64(n)); err != nil {
		return 0, err
	}

	c.d.ctl.notify(&c.d.ctl.onRead, b[:n])

	return n, nil
}

func (c *meteredConn) Write(b []byte) (int, error) {
	if err := c.d.writes.admit(); err != nil {
		return 0, err
	}

	n, err := c.Conn.Write(b)
	if err != nil {
		return n, err
	}

	if err := c.d.writes.spend(uint64(n)); err != nil {
		return 0, err
	}

	c.d.ctl.notify(&c.d.ctl.onWrite, b[:n])

	return n, nil
}

var _ net.Conn = (*meteredConn)(nil)
