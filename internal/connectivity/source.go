package connectivity

import (
	"context"
	"net"
	"sync"
	"time"
)

// CheckFunc reports current reachability. An error counts as offline.
type CheckFunc func(ctx context.Context) (bool, error)

// DialCheck builds a CheckFunc that attempts a TCP dial to addr.
func DialCheck(addr string, timeout time.Duration) CheckFunc {
	return func(ctx context.Context) (bool, error) {
		dialer := net.Dialer{Timeout: timeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false, err
		}
		_ = conn.Close()
		return true, nil
	}
}

// PollingSource turns a CheckFunc into a subscription-style connectivity
// source for environments without push signals. Subscribers are notified
// on state transitions only.
type PollingSource struct {
	check    CheckFunc
	interval time.Duration

	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
	last   bool
	primed bool
}

func NewPollingSource(check CheckFunc, interval time.Duration) *PollingSource {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &PollingSource{
		check:    check,
		interval: interval,
		subs:     make(map[int]func(bool)),
	}
}

func (p *PollingSource) Current(ctx context.Context) (bool, error) {
	return p.check(ctx)
}

func (p *PollingSource) Subscribe(fn func(connected bool)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Run polls until the context is done. Meant to be launched as a goroutine
// from main.
func (p *PollingSource) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			connected, err := p.check(ctx)
			if err != nil {
				connected = false
			}
			p.notify(connected)
		}
	}
}

func (p *PollingSource) notify(connected bool) {
	p.mu.Lock()
	changed := !p.primed || connected != p.last
	p.last = connected
	p.primed = true
	var fns []func(bool)
	if changed {
		for _, fn := range p.subs {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(connected)
	}
}
