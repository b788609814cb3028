// Package notify turns enriched chat messages into host notifications.
// The host capability (a browser Notification API, a desktop toaster, a
// test fake) is injected; when it is absent the dispatcher is a no-op,
// so the counting and fan-out logic stays testable without a UI.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/Scl-Ywr/confession-wall-sub003/metric"
	"github.com/Scl-Ywr/confession-wall-sub003/types"
)

// PermissionState is the host's notification permission.
type PermissionState int

// Permission states
const (
	PermissionDefault PermissionState = iota
	PermissionGranted
	PermissionDenied
)

// String returns the string representation of the permission state
func (p PermissionState) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "default"
	}
}

// Handle is one shown notification.
type Handle interface {
	// OnClick registers the click callback. At most one callback is
	// honored; later calls replace it.
	OnClick(fn func())
	// Close dismisses the notification. Idempotent.
	Close()
}

// Capability is the host notification surface.
type Capability interface {
	PermissionState() PermissionState
	// RequestPermission prompts the user. This can suspend until the
	// user reacts, so it takes the event's context.
	RequestPermission(ctx context.Context) (PermissionState, error)
	Show(title, body, icon string) (Handle, error)
}

// Router moves the host UI to a conversation when a notification is
// clicked.
type Router interface {
	OpenPrivate(senderID string)
	OpenGroup(groupID string)
}

const (
	maxBodyLength      = 80
	defaultAutoDismiss = 5 * time.Second
)

// Dispatcher shows a time-boxed, click-actionable notification for each
// consumed message, honoring the host permission flow.
type Dispatcher struct {
	capability  Capability
	router      Router
	logger      *slog.Logger
	icon        string
	autoDismiss time.Duration
	prompts     *rate.Limiter
	shown       prometheus.Counter
	skipped     *prometheus.CounterVec
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithIcon sets the icon passed to the capability on Show.
func WithIcon(icon string) Option {
	return func(d *Dispatcher) { d.icon = icon }
}

// WithAutoDismiss overrides the auto-dismiss timeout.
func WithAutoDismiss(ttl time.Duration) Option {
	return func(d *Dispatcher) {
		if ttl > 0 {
			d.autoDismiss = ttl
		}
	}
}

// WithPromptLimit overrides how often the dispatcher is willing to ask
// the user for permission.
func WithPromptLimit(limit rate.Limit, burst int) Option {
	return func(d *Dispatcher) { d.prompts = rate.NewLimiter(limit, burst) }
}

// WithMetrics registers dispatch metrics with the given registry.
func WithMetrics(registry *metric.Registry) Option {
	return func(d *Dispatcher) {
		if registry == nil {
			return
		}
		shown := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_shown_total",
			Help: "Notifications shown to the user",
		})
		skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_skipped_total",
			Help: "Notifications skipped by reason",
		}, []string{"reason"})
		if err := registry.RegisterCounter("notify", "notifications_shown_total", shown); err != nil {
			d.logger.Warn("notify metrics registration failed", "error", err)
			return
		}
		if err := registry.RegisterCounterVec("notify", "notifications_skipped_total", skipped); err != nil {
			d.logger.Warn("notify metrics registration failed", "error", err)
			return
		}
		d.shown = shown
		d.skipped = skipped
	}
}

// NewDispatcher creates a dispatcher. capability and router may be nil;
// a nil capability disables dispatch entirely.
func NewDispatcher(capability Capability, router Router, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		capability:  capability,
		router:      router,
		logger:      slog.Default(),
		autoDismiss: defaultAutoDismiss,
		// One prompt per 30s keeps a burst of arrivals from stacking
		// permission dialogs
		prompts: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch shows a notification for the message if the host permits it.
// A denied permission is a policy outcome, not an error; Dispatch only
// returns an error when the capability itself fails.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *types.Message) error {
	if d.capability == nil || msg == nil {
		return nil
	}

	state := d.capability.PermissionState()
	switch state {
	case PermissionDenied:
		d.skip("denied")
		return nil
	case PermissionDefault:
		if !d.prompts.Allow() {
			d.skip("prompt_limited")
			return nil
		}
		granted, err := d.capability.RequestPermission(ctx)
		if err != nil {
			d.logger.Warn("permission request failed", "error", err)
			d.skip("prompt_failed")
			return nil
		}
		if granted != PermissionGranted {
			d.skip("denied")
			return nil
		}
	case PermissionGranted:
	}

	handle, err := d.capability.Show(msg.SenderName(), body(msg), d.icon)
	if err != nil {
		d.logger.Warn("notification show failed", "sender", msg.SenderID, "error", err)
		return err
	}
	if d.shown != nil {
		d.shown.Inc()
	}

	handle.OnClick(func() {
		d.route(msg)
		handle.Close()
	})
	time.AfterFunc(d.autoDismiss, handle.Close)

	return nil
}

func (d *Dispatcher) route(msg *types.Message) {
	if d.router == nil {
		return
	}
	switch msg.Conversation {
	case types.ConversationGroup:
		d.router.OpenGroup(msg.GroupID)
	default:
		d.router.OpenPrivate(msg.SenderID)
	}
}

func (d *Dispatcher) skip(reason string) {
	if d.skipped != nil {
		d.skipped.WithLabelValues(reason).Inc()
	}
	d.logger.Debug("notification skipped", "reason", reason)
}

// body renders the notification body: text content truncated, anything
// else replaced by a placeholder naming the content type.
func body(msg *types.Message) string {
	if msg.ContentType != types.ContentText {
		return fmt.Sprintf("[%s]", msg.ContentType)
	}
	return truncate(msg.Content, maxBodyLength)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
