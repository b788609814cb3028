// Package broker adapts a NATS connection to the relay's publish/subscribe
// contract: fire-and-forget publishing, per-channel handler registries with
// insertion-ordered fan-out, and reconnection with capped backoff.
//
// Delivery is at-most-once and unordered across channels. Handler
// registrations survive a reconnect: they are re-established automatically
// once the connection returns.
package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/nats-io/nats.go"

	"github.com/Scl-Ywr/confession-wall-sub003/envelope"
	"github.com/Scl-Ywr/confession-wall-sub003/errors"
	"github.com/Scl-Ywr/confession-wall-sub003/pkg/retry"
)

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to broker")
	ErrClosed       = stderrors.New("broker adapter closed")
)

// Handler receives envelopes delivered on a subscribed channel.
// Handlers are invoked synchronously in registration order.
type Handler func(env *envelope.Envelope)

// handlerKey derives a stable identity for a handler so re-registering
// the same function value is a no-op. The key is the function value's
// closure pointer, not its code pointer: two closures built from the
// same literal share code but not captures, and each must keep its own
// registration.
func handlerKey(h Handler) uintptr {
	return uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&h)))
}

// channelState tracks the handlers and underlying subscription for one channel
type channelState struct {
	sub      *nats.Subscription
	order    []uintptr
	handlers map[uintptr]Handler
}

// Adapter wraps a NATS connection behind the relay's pub/sub contract
type Adapter struct {
	url    string
	logger *slog.Logger

	// Connection
	conn   *nats.Conn
	status atomic.Value // stores ConnectionStatus

	// Per-channel handler registries; survive reconnects
	channels   map[string]*channelState
	channelsMu sync.Mutex

	// Reconnect policy: min(attempt*reconnectStep, maxBackoff)
	reconnectStep time.Duration
	maxBackoff    time.Duration
	maxReconnects int
	timeout       time.Duration
	drainTimeout  time.Duration
	clientName    string

	// Callbacks
	onDisconnect func(error)
	onReconnect  func()

	// Metrics, optional
	metrics *adapterMetrics

	reconnects atomic.Int32
	closed     atomic.Bool
	closeMu    sync.Mutex
}

// NewAdapter creates a broker adapter for the given NATS URL.
// The adapter is not connected until Connect is called.
func NewAdapter(url string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		url:           url,
		logger:        slog.Default(),
		channels:      make(map[string]*channelState),
		reconnectStep: 50 * time.Millisecond,
		maxBackoff:    2 * time.Second,
		maxReconnects: -1, // infinite by default
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, errors.WrapInvalid(err, "Adapter", "NewAdapter", "apply option")
		}
	}

	a.status.Store(StatusDisconnected)
	return a, nil
}

// Status returns the current connection status
func (a *Adapter) Status() ConnectionStatus {
	val := a.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (a *Adapter) setStatus(status ConnectionStatus) {
	a.status.Store(status)
}

// IsHealthy returns true if the connection is established
func (a *Adapter) IsHealthy() bool {
	return a.Status() == StatusConnected
}

// Reconnects returns the number of reconnects observed so far
func (a *Adapter) Reconnects() int32 {
	return a.reconnects.Load()
}

// Conn exposes the underlying NATS connection for collaborators that
// need JetStream access. Nil until Connect succeeds.
func (a *Adapter) Conn() *nats.Conn {
	a.channelsMu.Lock()
	defer a.channelsMu.Unlock()
	return a.conn
}

// Connect establishes the broker connection and re-establishes any handler
// registrations made while disconnected.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}

	a.setStatus(StatusConnecting)

	opts := []nats.Option{
		nats.MaxReconnects(a.maxReconnects),
		nats.Timeout(a.timeout),
		nats.DrainTimeout(a.drainTimeout),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			return retry.Linear(attempt, a.reconnectStep, a.maxBackoff)
		}),
		nats.DisconnectErrHandler(a.handleDisconnect),
		nats.ReconnectHandler(a.handleReconnect),
		nats.ClosedHandler(a.handleClosed),
	}
	if a.clientName != "" {
		opts = append(opts, nats.Name(a.clientName))
	}

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(a.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}
		a.channelsMu.Lock()
		a.conn = conn
		a.channelsMu.Unlock()
		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			a.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Adapter", "Connect", "establish connection")
		}
	case <-ctx.Done():
		a.setStatus(StatusDisconnected)
		return errors.WrapTransient(ctx.Err(), "Adapter", "Connect", "connection cancelled")
	}

	a.setStatus(StatusConnected)
	a.logger.Info("connected to broker", "url", a.url)

	// Channels subscribed while disconnected get their subscriptions now
	a.resubscribeAll()

	return nil
}

// Publish sends an envelope on a channel, fire-and-forget. It returns false
// if the envelope is invalid or the underlying connection is unavailable;
// it never panics and never surfaces an error to the caller.
func (a *Adapter) Publish(channel string, env *envelope.Envelope) bool {
	if env == nil || env.Validate() != nil {
		a.logger.Warn("dropping invalid envelope", "channel", channel)
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		a.logger.Warn("envelope marshal failed", "channel", channel, "error", err)
		return false
	}

	a.channelsMu.Lock()
	conn := a.conn
	a.channelsMu.Unlock()

	if conn == nil || !conn.IsConnected() {
		if a.metrics != nil {
			a.metrics.publishFailures.Inc()
		}
		return false
	}

	if err := conn.Publish(channel, data); err != nil {
		a.logger.Warn("publish failed", "channel", channel, "error", err)
		if a.metrics != nil {
			a.metrics.publishFailures.Inc()
		}
		return false
	}

	if a.metrics != nil {
		a.metrics.published.Inc()
	}
	return true
}

// Subscribe registers a handler for a channel. The first handler for a
// channel opens the underlying subscription; duplicate registration of the
// same handler for the same channel is ignored. Registration succeeds even
// while disconnected - the subscription opens on the next (re)connect.
//
// Returns false only when the underlying subscription could not be opened;
// the registration is kept either way.
func (a *Adapter) Subscribe(channel string, handler Handler) bool {
	if handler == nil || channel == "" {
		return false
	}

	a.channelsMu.Lock()
	defer a.channelsMu.Unlock()

	if a.closed.Load() {
		return false
	}

	cs, exists := a.channels[channel]
	if !exists {
		cs = &channelState{handlers: make(map[uintptr]Handler)}
		a.channels[channel] = cs
	}

	key := handlerKey(handler)
	if _, dup := cs.handlers[key]; dup {
		return true // idempotent registration
	}
	cs.handlers[key] = handler
	cs.order = append(cs.order, key)

	if cs.sub != nil {
		return true // channel subscription already open
	}
	return a.openSubscriptionLocked(channel, cs)
}

// openSubscriptionLocked opens the NATS subscription for a channel.
// Caller must hold channelsMu.
func (a *Adapter) openSubscriptionLocked(channel string, cs *channelState) bool {
	if a.conn == nil || !a.conn.IsConnected() {
		return true // pending; opened on reconnect
	}

	sub, err := a.conn.Subscribe(channel, func(msg *nats.Msg) {
		a.dispatch(channel, msg.Data)
	})
	if err != nil {
		a.logger.Error("channel subscription failed", "channel", channel, "error", err)
		return false
	}

	cs.sub = sub
	return true
}

// dispatch decodes an inbound message and fans it out to the channel's
// handlers in registration order. A decode failure drops the message.
func (a *Adapter) dispatch(channel string, data []byte) {
	var env envelope.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.logger.Warn("dropping undecodable message", "channel", channel, "error", err)
		return
	}

	a.channelsMu.Lock()
	cs, exists := a.channels[channel]
	var handlers []Handler
	if exists {
		handlers = make([]Handler, 0, len(cs.order))
		for _, key := range cs.order {
			handlers = append(handlers, cs.handlers[key])
		}
	}
	a.channelsMu.Unlock()

	for _, h := range handlers {
		a.invoke(channel, h, &env)
	}
}

// invoke runs one handler, recovering panics so one bad listener cannot
// take down the subscription.
func (a *Adapter) invoke(channel string, h Handler, env *envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("handler panic", "channel", channel, "panic", fmt.Sprint(r))
		}
	}()

	h(env)

	if a.metrics != nil {
		a.metrics.delivered.Inc()
	}
}

// Unsubscribe removes handlers from a channel. With no handler arguments it
// removes all handlers and closes the underlying channel subscription; with
// handlers it removes only those, closing the subscription when none remain.
func (a *Adapter) Unsubscribe(channel string, handlers ...Handler) {
	a.channelsMu.Lock()
	defer a.channelsMu.Unlock()

	cs, exists := a.channels[channel]
	if !exists {
		return
	}

	if len(handlers) == 0 {
		a.closeChannelLocked(channel, cs)
		return
	}

	for _, h := range handlers {
		key := handlerKey(h)
		if _, ok := cs.handlers[key]; !ok {
			continue
		}
		delete(cs.handlers, key)
		for i, k := range cs.order {
			if k == key {
				cs.order = append(cs.order[:i], cs.order[i+1:]...)
				break
			}
		}
	}

	if len(cs.handlers) == 0 {
		a.closeChannelLocked(channel, cs)
	}
}

// closeChannelLocked drops a channel's registry and underlying subscription.
// Caller must hold channelsMu.
func (a *Adapter) closeChannelLocked(channel string, cs *channelState) {
	if cs.sub != nil {
		if err := cs.sub.Unsubscribe(); err != nil {
			a.logger.Warn("unsubscribe failed", "channel", channel, "error", err)
		}
	}
	delete(a.channels, channel)
}

// resubscribeAll re-opens subscriptions for every registered channel.
// Called after connect and reconnect so registrations survive outages.
func (a *Adapter) resubscribeAll() {
	a.channelsMu.Lock()
	defer a.channelsMu.Unlock()

	for channel, cs := range a.channels {
		if cs.sub != nil && cs.sub.IsValid() {
			continue
		}
		cs.sub = nil
		if !a.openSubscriptionLocked(channel, cs) {
			a.logger.Error("failed to restore subscription", "channel", channel)
		}
	}
}

// Close drains the connection and releases all channel registrations.
// Safe to call more than once.
func (a *Adapter) Close(ctx context.Context) error {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.closed.Load() {
		return nil
	}
	a.closed.Store(true)

	a.channelsMu.Lock()
	for channel, cs := range a.channels {
		if cs.sub != nil {
			if err := cs.sub.Unsubscribe(); err != nil {
				a.logger.Warn("unsubscribe during close failed", "channel", channel, "error", err)
			}
		}
	}
	a.channels = make(map[string]*channelState)
	conn := a.conn
	a.conn = nil
	a.channelsMu.Unlock()

	if conn == nil {
		a.setStatus(StatusDisconnected)
		return nil
	}

	drainTimeout := a.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	var drainErr error
	select {
	case err := <-drainDone:
		drainErr = err
	case <-time.After(drainTimeout):
		drainErr = fmt.Errorf("drain timeout after %v", drainTimeout)
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	conn.Close()
	a.setStatus(StatusDisconnected)

	if drainErr != nil {
		return errors.WrapTransient(drainErr, "Adapter", "Close", "drain connection")
	}
	return nil
}

// Connection event handlers

func (a *Adapter) handleDisconnect(_ *nats.Conn, err error) {
	a.setStatus(StatusReconnecting)
	a.logger.Warn("broker connection lost", "error", err)

	if a.onDisconnect != nil {
		go a.onDisconnect(err)
	}
}

func (a *Adapter) handleReconnect(_ *nats.Conn) {
	a.setStatus(StatusConnected)
	a.reconnects.Add(1)
	if a.metrics != nil {
		a.metrics.reconnects.Inc()
	}
	a.logger.Info("broker connection restored", "reconnects", a.reconnects.Load())

	// Core NATS keeps subscriptions across reconnects; restore any that were
	// registered while fully disconnected or invalidated.
	a.resubscribeAll()

	if a.onReconnect != nil {
		go a.onReconnect()
	}
}

func (a *Adapter) handleClosed(_ *nats.Conn) {
	a.setStatus(StatusDisconnected)
}
