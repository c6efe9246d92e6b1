package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Phase is the coarse connection state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// RetryPolicy is the reconnection schedule. It is fixed policy; callers get
// it from DefaultRetryPolicy and tests may shrink the delays.
type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	ConnectTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialDelay:   1000 * time.Millisecond,
		MaxDelay:       5000 * time.Millisecond,
		Multiplier:     2,
		ConnectTimeout: 20000 * time.Millisecond,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = max(d.MaxDelay, p.InitialDelay)
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}

// ConnState is the connection state machine driven by transport events. It
// holds no locks; Session serializes access.
type ConnState struct {
	policy    RetryPolicy
	phase     Phase
	connected bool
	attempts  int
	exhausted bool
	backoff   *backoff.ExponentialBackOff
}

func NewConnState(p RetryPolicy) *ConnState {
	p = p.normalized()
	return &ConnState{policy: p, backoff: p.backOff()}
}

func (c *ConnState) Phase() Phase    { return c.phase }
func (c *ConnState) Connected() bool { return c.connected }
func (c *ConnState) Attempts() int   { return c.attempts }
func (c *ConnState) Exhausted() bool { return c.exhausted }

// Begin moves a fresh session to Connecting.
func (c *ConnState) Begin() {
	if c.phase == PhaseDisconnected && !c.exhausted {
		c.phase = PhaseConnecting
	}
}

// OnConnected resets the attempt counter and the delay schedule.
func (c *ConnState) OnConnected() {
	c.phase = PhaseConnected
	c.connected = true
	c.attempts = 0
	c.backoff.Reset()
}

// OnDisconnected records the loss of an established connection and returns
// the delay before the next dial.
func (c *ConnState) OnDisconnected() time.Duration {
	c.connected = false
	if c.phase == PhaseConnected {
		c.phase = PhaseConnecting
	}
	return c.backoff.NextBackOff()
}

// OnConnectError counts one failed attempt. retry is false once the counter
// reaches MaxAttempts; the state is then terminal.
func (c *ConnState) OnConnectError() (delay time.Duration, retry bool) {
	c.connected = false
	c.attempts++
	if c.attempts >= c.policy.MaxAttempts {
		c.phase = PhaseDisconnected
		c.exhausted = true
		return 0, false
	}
	c.phase = PhaseConnecting
	return c.backoff.NextBackOff(), true
}

// Close forces the Disconnected phase.
func (c *ConnState) Close() {
	c.phase = PhaseDisconnected
	c.connected = false
}
