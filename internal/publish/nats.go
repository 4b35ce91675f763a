package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/signalforge/internal/sanitize"
)

// DefaultDuplicateWindow is how long JetStream remembers decision IDs for
// de-duplication of repeated publishes.
const DefaultDuplicateWindow = 24 * time.Hour

// NATS publishes payloads to JetStream on <prefix>.<accountID>. A publish
// succeeds only once the stream acknowledges it.
type NATS struct {
	js     nats.JetStreamContext
	stream string
	prefix string
	logger *zap.Logger
}

// NewNATS creates a JetStream publisher on an existing connection.
func NewNATS(nc *nats.Conn, stream, subjectPrefix string, logger *zap.Logger) (*NATS, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if stream == "" || subjectPrefix == "" {
		return nil, errors.New("stream and subject prefix are required")
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{js: js, stream: stream, prefix: subjectPrefix, logger: logger}, nil
}

// Subject returns the subject payloads for accountID are published on.
// IDs that are not valid subject tokens are rewritten by sanitize.Token.
func (n *NATS) Subject(accountID string) string {
	return n.prefix + "." + sanitize.Token(accountID)
}

// EnsureStream creates the stream if it does not exist yet.
func (n *NATS) EnsureStream(ctx context.Context) error {
	_, err := n.js.StreamInfo(n.stream, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", n.stream, err)
	}

	_, err = n.js.AddStream(&nats.StreamConfig{
		Name:       n.stream,
		Subjects:   []string{n.prefix + ".>"},
		Storage:    nats.FileStorage,
		Retention:  nats.LimitsPolicy,
		Duplicates: DefaultDuplicateWindow,
	}, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("create stream %s: %w", n.stream, err)
	}
	n.logger.Info("created publish stream",
		zap.String("stream", n.stream),
		zap.String("subjects", n.prefix+".>"),
	)
	return nil
}

// Publish sends p and waits for the stream acknowledgement. The decision ID
// is the JetStream message ID so a retried publish is stored once.
func (n *NATS) Publish(ctx context.Context, p Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	subject := n.Subject(p.AccountID)
	ack, err := n.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(p.DecisionID))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	n.logger.Debug("payload published",
		zap.String("subject", subject),
		zap.String("decision_id", p.DecisionID),
		zap.Uint64("seq", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate),
	)
	return nil
}
