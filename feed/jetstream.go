package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Scl-Ywr/confession-wall-sub003/errors"
	"github.com/Scl-Ywr/confession-wall-sub003/pkg/retry"
)

// JetStream adapts a JetStream stream of datastore insert events to the
// Feed interface. Each Open creates an ephemeral consumer filtered to
// the subject derived from the filter.
//
// Subjects follow "<prefix>.<collection>.<key>"; the stream is expected
// to already exist and bind "<prefix>.>".
type JetStream struct {
	js     jetstream.JetStream
	stream string
	prefix string
	logger *slog.Logger
}

// JetStreamOption configures the JetStream feed.
type JetStreamOption func(*JetStream)

// WithStreamLogger sets the feed logger.
func WithStreamLogger(logger *slog.Logger) JetStreamOption {
	return func(f *JetStream) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithSubjectPrefix overrides the default "feed" subject prefix.
func WithSubjectPrefix(prefix string) JetStreamOption {
	return func(f *JetStream) {
		if prefix != "" {
			f.prefix = prefix
		}
	}
}

// NewJetStream creates a Feed over an established NATS connection.
func NewJetStream(conn *nats.Conn, stream string, opts ...JetStreamOption) (*JetStream, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection,
			"JetStream", "NewJetStream", "check connection")
	}
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, errors.Wrap(err, "JetStream", "NewJetStream", "create jetstream context")
	}
	f := &JetStream{
		js:     js,
		stream: stream,
		prefix: "feed",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Open creates a consumer for the filter's subject and starts delivery.
func (f *JetStream) Open(ctx context.Context, filter Filter, handler Handler) (Handle, error) {
	if filter.Collection == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("filter collection is empty"),
			"JetStream", "Open", "validate filter")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("handler is nil"),
			"JetStream", "Open", "validate handler")
	}

	subject := f.subject(filter)
	consumer, err := retry.DoWithResult(ctx, retry.Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}, func() (jetstream.Consumer, error) {
		return f.js.CreateOrUpdateConsumer(ctx, f.stream, jetstream.ConsumerConfig{
			FilterSubject: subject,
		})
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "Open", "create consumer")
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(msg.Data())
		if ackErr := msg.Ack(); ackErr != nil {
			f.logger.Debug("feed ack failed", "subject", subject, "error", ackErr)
		}
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStream", "Open", "start consume")
	}

	f.logger.Debug("feed opened", "stream", f.stream, "subject", subject)
	return &jetstreamHandle{cc: cc}, nil
}

func (f *JetStream) subject(filter Filter) string {
	key := "*"
	if filter.Key != "" {
		key = sanitizeToken(filter.Key)
	}
	return strings.Join([]string{f.prefix, filter.Collection, key}, ".")
}

// sanitizeToken keeps NATS subject tokens well-formed.
func sanitizeToken(s string) string {
	r := strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")
	return r.Replace(s)
}

type jetstreamHandle struct {
	cc jetstream.ConsumeContext
}

func (h *jetstreamHandle) Close() error {
	h.cc.Stop()
	return nil
}
