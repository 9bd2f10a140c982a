package drivers

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// SupervisorOptions configures a ConnectionSupervisor. Mirrors the shape of
// the teacher's functional options in options.go, generalized to any Driver.
type SupervisorOptions struct {
	Logger             *slog.Logger
	HeartbeatInterval  time.Duration
	ReconnectBackoff   time.Duration
	MaxReconnectTime   time.Duration
	MaxReconnectTries  int // 0 means unlimited, matching client.go's default reconnect loop
	AutoReconnect      bool
	ConnectTimeout     time.Duration // 0 falls back to HeartbeatInterval, matching the prior behavior
	OnConnectionChange func(from, to ConnectionState)
	OnError            func(err error)
	OnHeartbeat        func(status ProtocolStatus)
}

func defaultOptions() SupervisorOptions {
	return SupervisorOptions{
		Logger:            slog.Default(),
		HeartbeatInterval: 10 * time.Second,
		ReconnectBackoff:  1 * time.Second,
		MaxReconnectTime:  30 * time.Second,
		AutoReconnect:     true,
	}
}

// ConnectionSupervisor wraps a Driver with the state machine, heartbeat loop
// and reconnect-with-backoff of spec §4.4, generalizing client.go's
// reconnect()/handleDisconnect() beyond a single Modbus TCP connection.
//
// State transitions (spec §4.4, invariant 4):
//
//	Disconnected  --Connect()-->       Connecting
//	Connecting    --ok-->              Connected
//	Connecting    --err-->             Error
//	Connected     --heartbeat fail-->  Error
//	Connected     --Disconnect()-->    Disconnected
//	Error         --auto-reconnect-->  Reconnecting
//	Reconnecting  --ok-->              Connected
//	Reconnecting  --exhausted-->       Disconnected
type ConnectionSupervisor struct {
	driver Driver
	opts   SupervisorOptions

	mu    sync.Mutex
	state ConnectionState

	reconnects    int64
	lastErr       error
	lastSuccessAt time.Time

	// running mean of observed operation latency, Welford's incremental
	// update: mean' = mean + (sample - mean) / n. Avoids accumulating a sum
	// that would overflow over a long-running gateway process.
	sampleCount int64
	meanLatency float64

	closeCh chan struct{}
	closeOnce sync.Once
	wg      sync.WaitGroup
}

// NewConnectionSupervisor wraps driver with state-machine and heartbeat
// behavior. A nil-valued field in opts falls back to defaultOptions().
func NewConnectionSupervisor(driver Driver, opts SupervisorOptions) *ConnectionSupervisor {
	def := defaultOptions()
	if opts.Logger == nil {
		opts.Logger = def.Logger
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = def.ReconnectBackoff
	}
	if opts.MaxReconnectTime <= 0 {
		opts.MaxReconnectTime = def.MaxReconnectTime
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = opts.HeartbeatInterval
	}
	return &ConnectionSupervisor{
		driver:  driver,
		opts:    opts,
		state:   StateDisconnected,
		closeCh: make(chan struct{}),
	}
}

func (s *ConnectionSupervisor) setState(to ConnectionState) {
	s.mu.Lock()
	from := s.state
	s.state = to
	if to == StateConnected {
		s.reconnects = 0 // a successful connect resets the reconnect count
	}
	s.mu.Unlock()
	if from != to && s.opts.OnConnectionChange != nil {
		s.opts.OnConnectionChange(from, to)
	}
}

// State returns the current supervised connection state.
func (s *ConnectionSupervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Driver returns the wrapped Driver, for callers that need to issue
// Read/Write operations directly against the supervised connection.
func (s *ConnectionSupervisor) Driver() Driver {
	return s.driver
}

// Connect transitions Disconnected -> Connecting -> Connected|Error and, on
// success, starts the background heartbeat loop.
func (s *ConnectionSupervisor) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.driver.Connect(ctx); err != nil {
		s.recordError(err)
		s.setState(StateError)
		return err
	}
	s.mu.Lock()
	s.lastSuccessAt = time.Now()
	s.mu.Unlock()
	s.setState(StateConnected)

	s.wg.Add(1)
	go s.heartbeatLoop()
	return nil
}

// Disconnect stops the heartbeat loop and tears down the underlying driver.
func (s *ConnectionSupervisor) Disconnect() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	s.wg.Wait()
	err := s.driver.Disconnect()
	s.setState(StateDisconnected)
	return err
}

func (s *ConnectionSupervisor) recordError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
}

// Observe folds a latency sample into the running mean (spec invariant 6:
// running mean stays within [min(samples), max(samples)] for any input
// sequence — guaranteed by the Welford update never extrapolating beyond
// the new sample and the prior mean).
func (s *ConnectionSupervisor) Observe(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sampleCount++
	delta := latency.Seconds()*1000 - s.meanLatency
	s.meanLatency += delta / float64(s.sampleCount)
}

// Status reports the point-in-time ProtocolStatus for this supervisor.
func (s *ConnectionSupervisor) Status() ProtocolStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ProtocolStatus{
		Protocol:      s.driver.Kind(),
		State:         s.state,
		Reconnects:    s.reconnects,
		LastSuccessAt: s.lastSuccessAt,
		MeanLatencyMS: s.meanLatency,
		SampleCount:   s.sampleCount,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

func (s *ConnectionSupervisor) heartbeatLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.HeartbeatInterval)
			start := time.Now()
			err := s.driver.Ping(ctx)
			cancel()
			s.Observe(time.Since(start))

			if err == nil {
				s.mu.Lock()
				s.lastSuccessAt = time.Now()
				s.mu.Unlock()
				if s.opts.OnHeartbeat != nil {
					s.opts.OnHeartbeat(s.Status())
				}
				continue
			}

			s.recordError(err)
			s.setState(StateError)

			if !s.opts.AutoReconnect {
				s.opts.Logger.Warn("heartbeat failed, auto_reconnect disabled",
					slog.String("protocol", s.driver.Kind().String()),
					slog.String("error", err.Error()))
				return
			}

			s.opts.Logger.Warn("heartbeat failed, entering reconnect",
				slog.String("protocol", s.driver.Kind().String()),
				slog.String("error", err.Error()))

			if s.reconnectLoop() {
				continue
			}
			return
		}
	}
}

// reconnectLoop implements the exponential backoff of client.go's
// reconnect(), generalized to any Driver and bounded by MaxReconnectTries
// (0 = unlimited, matching the teacher's unbounded default). Returns true
// if reconnection succeeded and the heartbeat loop should keep running.
func (s *ConnectionSupervisor) reconnectLoop() bool {
	s.setState(StateReconnecting)
	backoff := s.opts.ReconnectBackoff
	attempt := 0

	for {
		select {
		case <-s.closeCh:
			return false
		default:
		}

		if s.opts.MaxReconnectTries > 0 && attempt >= s.opts.MaxReconnectTries {
			s.setState(StateDisconnected)
			return false
		}
		attempt++

		s.mu.Lock()
		s.reconnects++
		s.mu.Unlock()

		s.opts.Logger.Info("attempting reconnection",
			slog.String("protocol", s.driver.Kind().String()),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff))

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
		err := s.driver.Connect(ctx)
		cancel()
		if err == nil {
			s.mu.Lock()
			s.lastSuccessAt = time.Now()
			s.mu.Unlock()
			s.setState(StateConnected)
			return true
		}
		s.recordError(err)

		select {
		case <-s.closeCh:
			return false
		case <-time.After(backoff):
		}

		backoff = time.Duration(math.Min(
			float64(backoff)*2,
			float64(s.opts.MaxReconnectTime),
		))
	}
}
