// Package events connects the approvals service to NATS JetStream: it
// enqueues deduplicated recalculation jobs, publishes status-changed
// notifications, and runs the consumer that drives asynchronous
// recalculation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/approval"
	"github.com/pesio-ai/be-approvals/internal/config"
)

// recalcDedupWindow is the JetStream duplicate-detection window. Enqueues for
// the same workflow inside this window collapse into one job.
const recalcDedupWindow = 2 * time.Minute

// recalcJob is the payload of a recalculation job message.
type recalcJob struct {
	WorkflowID string `json:"workflow_id"`
}

// Publisher publishes approval events to JetStream.
//
// Recalculation enqueues are deduplicated by workflow ID via Nats-Msg-Id.
// Status-changed notifications are fire-and-forget: failures are logged and
// swallowed, because the durable status transition has already committed and
// only the side-effect actions may be delayed.
type Publisher struct {
	js  nats.JetStreamContext
	cfg config.NATSConfig
	log zerolog.Logger
}

// NewPublisher sets up the JetStream context and ensures the approvals
// stream exists.
func NewPublisher(nc *nats.Conn, cfg config.NATSConfig, log zerolog.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.StreamName); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.StreamName,
			Subjects:   []string{cfg.RecalcSubject, cfg.NotifySubject + ".>"},
			Duplicates: recalcDedupWindow,
		})
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
	}

	return &Publisher{js: js, cfg: cfg, log: log}, nil
}

// EnqueueRecalculation publishes a recalculation job keyed by workflow ID.
// Concurrent enqueues for the same workflow within the dedup window collapse
// to a single job. Callers treat failure as non-fatal: the lazily triggered
// recalculation on the next read is the fallback path.
func (p *Publisher) EnqueueRecalculation(ctx context.Context, workflowID string) error {
	data, err := json.Marshal(recalcJob{WorkflowID: workflowID})
	if err != nil {
		return fmt.Errorf("marshal recalc job: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.cfg.RecalcSubject,
		Data:    data,
		Header:  nats.Header{"Nats-Msg-Id": []string{"recalc-" + workflowID}},
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish recalc job: %w", err)
	}
	return nil
}

// PublishStatusChanged publishes a workflow status-changed notification.
// Subject: <prefix>.status_changed. Best-effort; never returns an error.
func (p *Publisher) PublishStatusChanged(ctx context.Context, event approval.StatusChangedEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).
			Str("workflow_id", event.WorkflowID).
			Msg("notification: failed to marshal status-changed event")
		return
	}

	subject := p.cfg.NotifySubject + ".status_changed"
	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("workflow_id", event.WorkflowID).
			Msg("notification: failed to publish status-changed event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("workflow_id", event.WorkflowID).
		Str("new_status", string(event.NewStatus)).
		Msg("notification: status-changed event published")
}
