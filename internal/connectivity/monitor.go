package connectivity

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingithegreat/AquaProject-sub000/internal/domain"
	"github.com/kingithegreat/AquaProject-sub000/internal/models"
)

// Monitor owns the process-wide reachability flag. The last-known value is
// persisted so a restart while offline does not pretend to be online, and
// an offline-to-online flip schedules a debounced queue drain.
//
// Every platform failure is treated as offline; Monitor never panics.
type Monitor struct {
	source   domain.ConnectivitySource
	kv       domain.KeyValueStore
	logger   *zerolog.Logger
	probeURL string
	client   *http.Client

	queueSize func() int
	drain     func()
	debounce  time.Duration

	online      atomic.Bool
	started     atomic.Bool
	unsubscribe func()

	timerMu    sync.Mutex
	drainTimer *time.Timer
}

// NewMonitor wires the monitor to its collaborators. queueSize and drain
// come from the operation queue; drain runs on a timer goroutine.
func NewMonitor(
	source domain.ConnectivitySource,
	kv domain.KeyValueStore,
	probeURL string,
	debounce time.Duration,
	queueSize func() int,
	drain func(),
	logger *zerolog.Logger,
) *Monitor {
	if debounce <= 0 {
		debounce = models.DrainDebounce
	}
	m := &Monitor{
		source:    source,
		kv:        kv,
		logger:    logger,
		probeURL:  probeURL,
		client:    &http.Client{},
		queueSize: queueSize,
		drain:     drain,
		debounce:  debounce,
	}
	m.online.Store(true)
	return m
}

// Start loads the persisted state and subscribes to platform change
// signals. Calling it twice does not create duplicate subscriptions.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	m.online.Store(m.loadPersisted(ctx))

	if m.source == nil {
		m.logger.Warn().Msg("no connectivity source, assuming last-known state")
		return
	}

	m.unsubscribe = m.source.Subscribe(func(connected bool) {
		m.handleChange(context.Background(), connected)
	})

	if current, err := m.source.Current(ctx); err != nil {
		// Fail toward offline, never silently assume connectivity.
		m.handleChange(ctx, false)
	} else {
		m.handleChange(ctx, current)
	}
}

// Stop cancels the subscription and any pending drain timer.
func (m *Monitor) Stop() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.cancelDrainTimer()
	m.started.Store(false)
}

// Online is the synchronous last-known read; it never touches the network.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Probe is the slower two-phase check for submission-critical moments:
// the platform report first, then a real HTTP request to rule out a
// captive or dead uplink. False on any failure or timeout.
func (m *Monitor) Probe(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = models.ProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if m.source != nil {
		reported, err := m.source.Current(ctx)
		if err != nil || !reported {
			return false
		}
	} else if !m.online.Load() {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		m.logger.Error().Err(err).Str("url", m.probeURL).Msg("probe request build failed")
		return false
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Msg("active probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < 500
}

func (m *Monitor) handleChange(ctx context.Context, connected bool) {
	wasOnline := m.online.Swap(connected)
	m.persist(ctx, connected)

	if connected == wasOnline {
		return
	}

	m.logger.Info().Bool("online", connected).Msg("connectivity changed")

	if !connected {
		m.cancelDrainTimer()
		return
	}

	if m.queueSize == nil || m.drain == nil || m.queueSize() == 0 {
		return
	}

	m.scheduleDrain()
}

// scheduleDrain arms the debounce timer, resetting it if one is already
// pending so flapping connectivity yields a single drain.
func (m *Monitor) scheduleDrain() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.drainTimer != nil {
		m.drainTimer.Stop()
	}
	m.drainTimer = time.AfterFunc(m.debounce, m.drain)
}

func (m *Monitor) cancelDrainTimer() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.drainTimer != nil {
		m.drainTimer.Stop()
		m.drainTimer = nil
	}
}

func (m *Monitor) loadPersisted(ctx context.Context) bool {
	raw, err := m.kv.Get(ctx, models.KeyNetworkState)
	if err != nil {
		m.logger.Error().Err(err).Msg("load network state failed")
		return true
	}
	if raw == nil {
		return true
	}

	var state models.ConnectivityState
	if err := json.Unmarshal(raw, &state); err != nil {
		// Corrupt state is treated as absent.
		m.logger.Warn().Err(err).Msg("corrupt network state discarded")
		return true
	}
	return state.IsConnected
}

func (m *Monitor) persist(ctx context.Context, connected bool) {
	state := models.ConnectivityState{IsConnected: connected, CheckedAt: time.Now()}
	raw, err := json.Marshal(state)
	if err != nil {
		m.logger.Error().Err(err).Msg("marshal network state failed")
		return
	}
	if err := m.kv.Put(ctx, models.KeyNetworkState, raw); err != nil {
		m.logger.Error().Err(err).Msg("persist network state failed")
	}
}
