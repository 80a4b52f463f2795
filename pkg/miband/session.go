package miband

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bandctl/internal/device"
	"github.com/srg/bandctl/internal/groutine"
	"go.uber.org/atomic"
)

// Options tunes session timing. Zero values are replaced by the defaults in
// the struct tags when passed through DefaultOptions.
type Options struct {
	ConnectTimeout        time.Duration `default:"10s"`
	ReconnectBackoff      time.Duration `default:"3s"`
	MaxConnectAttempts    int           `default:"0"` // 0 retries forever
	RequestTimeout        time.Duration `default:"10s"`
	AuthStepTimeout       time.Duration `default:"5s"`
	HeartRateTimeout      time.Duration `default:"30s"`
	PollInterval          time.Duration `default:"50ms"`
	HeartRatePingInterval time.Duration `default:"12s"`
	FirmwareSettle        time.Duration `default:"500ms"`
	PulseOnConnect        bool          `default:"true"`
	AlertTitle            string        `default:"bandctl"`

	// Access overrides the default per-command access table.
	Access map[string]Access
}

// DefaultOptions returns Options populated from the default tags.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

// noReading marks an empty battery or pulse cache.
const noReading = -1

// Session owns the link to one band: connection lifecycle, authentication,
// command serialization and the notification pump.
//
// Three locks order access to the transport. connectMu serializes connection
// attempts, cmdMu serializes commands end to end, and busMu is held around
// every single transport call including each pump poll. Backoff sleeps and
// reply waits never hold busMu.
type Session struct {
	creds     Credentials
	freezed   bool
	transport device.Transport
	opts      Options
	logger    *logrus.Logger
	router    *Router
	policy    *AccessPolicy

	state     atomic.Int32
	stateMu   sync.Mutex
	observers []func(StateChange)

	connectMu sync.Mutex
	cmdMu     sync.Mutex
	busMu     sync.Mutex

	connID  atomic.String
	battery atomic.Int32
	pulse   atomic.Int32

	linkMu     sync.Mutex
	pumpCancel context.CancelFunc
	pumpDone   <-chan struct{}

	streamsMu sync.Mutex
	streams   map[*Stream]struct{}
	owners    map[Category]*Stream
	track     *Track
}

// NewSession validates credentials and creates a disconnected session. Empty
// credentials produce a freezed session that never touches the transport.
func NewSession(mac, authKey string, transport device.Transport, opts Options, logger *logrus.Logger) (*Session, error) {
	creds, freezed, err := ParseCredentials(mac, authKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	if transport == nil && !freezed {
		return nil, invalidArgument("session", "transport is required")
	}

	s := &Session{
		creds:     creds,
		freezed:   freezed,
		transport: transport,
		opts:      withDefaults(opts),
		logger:    logger,
		router:    NewRouter(logger),
		streams:   make(map[*Stream]struct{}),
		owners:    make(map[Category]*Stream),
	}
	s.policy = DefaultAccessPolicy()
	for cmd, access := range s.opts.Access {
		s.policy.Set(cmd, access)
	}
	s.battery.Store(noReading)
	s.pulse.Store(noReading)

	if freezed {
		s.state.Store(int32(Freezed))
		s.log().Warn("No credentials configured, session is freezed")
	}
	return s, nil
}

// withDefaults fills zero fields of opts from DefaultOptions.
func withDefaults(opts Options) Options {
	d := DefaultOptions()
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = d.ConnectTimeout
	}
	if opts.ReconnectBackoff <= 0 {
		opts.ReconnectBackoff = d.ReconnectBackoff
	}
	if opts.MaxConnectAttempts < 0 {
		opts.MaxConnectAttempts = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = d.RequestTimeout
	}
	if opts.AuthStepTimeout <= 0 {
		opts.AuthStepTimeout = d.AuthStepTimeout
	}
	if opts.HeartRateTimeout <= 0 {
		opts.HeartRateTimeout = d.HeartRateTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = d.PollInterval
	}
	if opts.HeartRatePingInterval <= 0 {
		opts.HeartRatePingInterval = d.HeartRatePingInterval
	}
	if opts.FirmwareSettle <= 0 {
		opts.FirmwareSettle = d.FirmwareSettle
	}
	if opts.AlertTitle == "" {
		opts.AlertTitle = d.AlertTitle
	}
	return opts
}

func (s *Session) log() *logrus.Entry {
	fields := logrus.Fields{"address": s.creds.Address}
	if id := s.connID.Load(); id != "" {
		fields["conn_id"] = id
	}
	return s.logger.WithFields(fields)
}

// Address returns the band MAC address.
func (s *Session) Address() string {
	return s.creds.Address
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsFreezed reports whether the session has no usable credentials.
func (s *Session) IsFreezed() bool {
	return s.freezed
}

// IsAuthenticated reports whether the session completed authentication.
func (s *Session) IsAuthenticated() bool {
	return s.State() == Authenticated
}

// Policy returns the command access table.
func (s *Session) Policy() *AccessPolicy {
	return s.policy
}

// Router returns the notification router.
func (s *Session) Router() *Router {
	return s.router
}

// OnStateChange registers an observer called synchronously on every transition.
// Observers must not block.
func (s *Session) OnStateChange(fn func(StateChange)) {
	s.stateMu.Lock()
	s.observers = append(s.observers, fn)
	s.stateMu.Unlock()
}

func (s *Session) setState(to State, cause error) {
	s.stateMu.Lock()
	from := State(s.state.Load())
	if from == to || from == Freezed {
		s.stateMu.Unlock()
		return
	}
	s.state.Store(int32(to))
	observers := append([]func(StateChange){}, s.observers...)
	s.stateMu.Unlock()

	entry := s.log().WithFields(logrus.Fields{"from": from, "to": to})
	if cause != nil {
		entry = entry.WithField("cause", cause)
	}
	entry.Debug("Session state changed")

	change := StateChange{From: from, To: to, Err: cause}
	for _, fn := range observers {
		fn(change)
	}
}

func (s *Session) freezedError(op string) error {
	return newError(KindFreezed, op, "no credentials configured", nil)
}

// EnsureConnected connects unless the link is already up. It fails
// immediately with ErrFreezed on a freezed session.
func (s *Session) EnsureConnected(ctx context.Context) error {
	if s.freezed {
		return s.freezedError("ensure_connected")
	}
	if s.State().linkUp() {
		return nil
	}
	return s.Connect(ctx)
}

// Connect establishes the link and authenticates.
//
// Link failures are retried after ReconnectBackoff until success, ctx
// cancellation or MaxConnectAttempts. Authentication failures are not
// retried; the session then stays Connected.
func (s *Session) Connect(ctx context.Context) error {
	if s.freezed {
		return s.freezedError("connect")
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.State().linkUp() {
		return nil
	}

	for attempt := 1; ; attempt++ {
		err := s.connectOnce(ctx)
		if err == nil || !errors.Is(err, ErrDisconnected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.opts.MaxConnectAttempts > 0 && attempt >= s.opts.MaxConnectAttempts {
			return err
		}

		s.log().WithFields(logrus.Fields{
			"attempt": attempt,
			"backoff": s.opts.ReconnectBackoff,
			"error":   err,
		}).Warn("Connection failed, retrying")

		timer := time.NewTimer(s.opts.ReconnectBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Session) connectOnce(ctx context.Context) error {
	s.setState(Connecting, nil)

	s.busMu.Lock()
	err := s.transport.Connect(ctx, s.creds.Address, s.opts.ConnectTimeout)
	s.busMu.Unlock()
	if err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
		s.setState(Disconnected, err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(KindDisconnected, "connect", "", err)
	}

	s.connID.Store(uuid.NewString())
	s.setState(Connected, nil)
	s.log().Info("Connected to band")
	s.startPump()

	if err := s.enable("auth", CharAuth); err != nil {
		s.teardownLink(err, true)
		return err
	}

	auth := &authenticator{
		key:         s.creds.Key,
		router:      s.router,
		write:       func(data []byte) error { return s.write("auth", CharAuth, data, false) },
		stepTimeout: s.opts.AuthStepTimeout,
		logger:      s.log(),
	}
	if err := auth.run(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrDisconnected) {
			s.teardownLink(err, true)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		s.log().WithField("error", err).Error("Authentication failed")
		return err
	}

	s.setState(Authenticated, nil)
	s.log().Info("Authenticated with band")
	s.postConnect()
	return nil
}

// postConnect starts the background pulse stream once per successful connect,
// unless a heart rate stream is already running.
func (s *Session) postConnect() {
	if !s.opts.PulseOnConnect {
		return
	}
	groutine.Go(context.Background(), "post-connect", func(ctx context.Context) {
		st, err := s.startHeartRate(ctx, nil, true)
		switch {
		case err != nil:
			s.log().WithField("error", err).Warn("Failed to start background pulse stream")
		case st == nil:
			s.log().Debug("Heart rate stream already running, skipping background pulse stream")
		}
	})
}

func (s *Session) startPump() {
	ctx, cancel := context.WithCancel(context.Background())
	s.transport.SetListener(s.onNotification)
	done := groutine.Go(ctx, "notification-pump", s.pump)

	s.linkMu.Lock()
	s.pumpCancel = cancel
	s.pumpDone = done
	s.linkMu.Unlock()
}

func (s *Session) onNotification(n device.Notification) {
	s.router.Dispatch(n)
}

// pump polls the transport until cancelled or the link fails.
func (s *Session) pump(ctx context.Context) {
	s.log().WithField("goroutine", groutine.GetName(ctx)).Debug("Notification pump started")
	for ctx.Err() == nil {
		s.busMu.Lock()
		_, err := s.transport.WaitForNotification(s.opts.PollInterval)
		s.busMu.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log().WithField("error", err).Warn("Link lost")
			s.teardownLink(newError(KindDisconnected, "notification_pump", "link lost", err), false)
			return
		}
	}
}

// teardownLink stops the pump, closes the transport, fails pending requests,
// stops streams and moves to Disconnected. waitPump must be false when called
// from the pump itself.
func (s *Session) teardownLink(cause error, waitPump bool) {
	s.linkMu.Lock()
	cancel, done := s.pumpCancel, s.pumpDone
	s.pumpCancel, s.pumpDone = nil, nil
	s.linkMu.Unlock()

	if cancel != nil {
		cancel()
		if waitPump && done != nil {
			<-done
		}
	}

	s.busMu.Lock()
	if err := s.transport.Disconnect(); err != nil {
		s.log().WithField("error", err).Debug("Transport disconnect reported an error")
	}
	s.busMu.Unlock()

	failure := cause
	if failure == nil || !errors.Is(failure, ErrDisconnected) {
		failure = newError(KindDisconnected, "session", "link closed", cause)
	}
	s.router.FailAll(failure)
	s.stopStreams(failure)
	s.setState(Disconnected, cause)
}

// Disconnect closes the link and clears cached readings. It is a no-op on a
// freezed session.
func (s *Session) Disconnect() error {
	if s.freezed {
		return nil
	}
	s.teardownLink(nil, true)
	s.battery.Store(noReading)
	s.pulse.Store(noReading)
	s.connID.Store("")
	s.log().Info("Disconnected from band")
	return nil
}

// run is the guard every command goes through: freezed check, connection,
// access policy, then the command itself under cmdMu. A link failure reported
// by the command tears the link down so the next call reconnects.
func (s *Session) run(ctx context.Context, op string, reconnect bool, fn func(ctx context.Context) error) error {
	if s.freezed {
		return s.freezedError(op)
	}
	if reconnect {
		if err := s.EnsureConnected(ctx); err != nil {
			return err
		}
	} else if !s.State().linkUp() {
		return newError(KindDisconnected, op, "not connected", nil)
	}

	if s.policy.Lookup(op) == AuthenticatedOnly && s.State() != Authenticated {
		return newError(KindNotAuthenticated, op, "command requires an authenticated session", nil)
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	err := fn(ctx)
	if errors.Is(err, ErrDisconnected) && s.State().linkUp() {
		s.log().WithFields(logrus.Fields{"op": op, "error": err}).Warn("Command lost the link")
		s.teardownLink(err, true)
	}
	return err
}

func (s *Session) exec(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return s.run(ctx, op, true, fn)
}

func (s *Session) write(op, char string, data []byte, withResponse bool) error {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return transportError(op, s.transport.Write(char, data, withResponse))
}

func (s *Session) read(op, char string) ([]byte, error) {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	data, err := s.transport.Read(char)
	return data, transportError(op, err)
}

func (s *Session) enable(op, char string) error {
	s.busMu.Lock()
	defer s.busMu.Unlock()
	return transportError(op, s.transport.EnableNotifications(char))
}

// request registers a pending request for cat, writes data and waits for the reply.
func (s *Session) request(ctx context.Context, op string, cat Category, char string, data []byte, withResponse bool, timeout time.Duration) ([]byte, error) {
	p := s.router.Expect(cat, timeout)
	if err := s.write(op, char, data, withResponse); err != nil {
		p.Cancel()
		return nil, err
	}
	payload, err := p.Await(ctx)
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) && serr.Op != op {
			return nil, newError(serr.Kind, op, serr.Msg, serr.Err)
		}
		return nil, err
	}
	return payload, nil
}
