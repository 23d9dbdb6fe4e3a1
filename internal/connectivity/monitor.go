// Package connectivity tracks whether the remote backend is reachable and
// notifies listeners on transitions, so queued work drains as soon as the
// network comes back.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/construtech/rdosync/internal/config"
	"github.com/construtech/rdosync/internal/logging"
)

// Listener is notified on every online/offline transition.
type Listener func(online bool)

// Monitor probes a health URL on an interval and keeps the last observed
// state. A probe is a single bounded HEAD request; any response at all counts
// as online, only transport failure counts as offline.
type Monitor struct {
	probeURL string
	interval time.Duration
	client   *http.Client

	mu        sync.Mutex
	online    bool
	forced    bool
	listeners []Listener

	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewMonitor creates a Monitor. The initial state is offline until the first
// probe says otherwise.
func NewMonitor(cfg config.ConnectivityConfig) *Monitor {
	timeout := cfg.ProbeTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	interval := cfg.Interval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{
		probeURL: cfg.ProbeURL,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
	}
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// OnChange registers a transition listener. Listeners run synchronously on
// the probing goroutine and must not block.
func (m *Monitor) OnChange(fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// SetOnline forces the state, bypassing probes until cleared. This is the
// airplane-mode switch: a forced state sticks even while the prober runs.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	m.forced = true
	m.mu.Unlock()
	m.transition(online)
}

// ClearForced returns control to the prober.
func (m *Monitor) ClearForced() {
	m.mu.Lock()
	m.forced = false
	m.mu.Unlock()
}

// Check runs one probe immediately and updates the state.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	if m.forced {
		online := m.online
		m.mu.Unlock()
		return online
	}
	m.mu.Unlock()

	online := m.probe(ctx)
	m.transition(online)
	return online
}

func (m *Monitor) probe(ctx context.Context) bool {
	if m.probeURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// transition flips the state if it changed and notifies listeners.
func (m *Monitor) transition(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	if online {
		logging.Info("connectivity restored", nil)
	} else {
		logging.Warn("connectivity lost", nil)
	}
	for _, fn := range listeners {
		fn(online)
	}
}

// Start launches the periodic prober. Idempotent.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Check(context.Background())
		for {
			select {
			case <-ticker.C:
				m.Check(context.Background())
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop halts the prober and waits for it to exit. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}
