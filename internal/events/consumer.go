package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-approvals/internal/apperr"
	"github.com/pesio-ai/be-approvals/internal/config"
)

// Recalculator is the slice of the recalculation service the consumer needs.
type Recalculator interface {
	EnsureFresh(ctx context.Context, workflowID string) error
}

// RecalcConsumer pulls recalculation jobs from JetStream and runs them. It is
// the asynchronous trigger path; the lazy trigger on workflow reads covers
// any job this consumer misses.
type RecalcConsumer struct {
	js     nats.JetStreamContext
	cfg    config.NATSConfig
	recalc Recalculator
	log    zerolog.Logger
}

// NewRecalcConsumer creates a consumer bound to the recalc subject.
func NewRecalcConsumer(nc *nats.Conn, cfg config.NATSConfig, recalc Recalculator, log zerolog.Logger) (*RecalcConsumer, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream context: %w", err)
	}
	return &RecalcConsumer{js: js, cfg: cfg, recalc: recalc, log: log}, nil
}

// Run fetches and processes jobs until ctx is canceled.
func (c *RecalcConsumer) Run(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(c.cfg.RecalcSubject, c.cfg.RecalcDurable, nats.BindStream(c.cfg.StreamName))
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", c.cfg.RecalcSubject, err)
	}
	defer sub.Unsubscribe()

	c.log.Info().
		Str("subject", c.cfg.RecalcSubject).
		Str("durable", c.cfg.RecalcDurable).
		Msg("recalculation consumer started")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(c.cfg.ConsumerJobs, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.Canceled) {
				continue
			}
			c.log.Warn().Err(err).Msg("failed to fetch recalculation jobs")
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, msg)
		}
	}
}

func (c *RecalcConsumer) handle(ctx context.Context, msg *nats.Msg) {
	var job recalcJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		c.log.Error().Err(err).Msg("malformed recalculation job; dropping")
		_ = msg.Term()
		return
	}

	err := c.recalc.EnsureFresh(ctx, job.WorkflowID)
	switch {
	case err == nil:
		_ = msg.Ack()
	case apperr.IsCode(err, apperr.ErrCodeConcurrency):
		// A concurrent recalculation already wrote a correct result.
		c.log.Debug().
			Str("workflow_id", job.WorkflowID).
			Msg("recalculation lost the version race; result already fresh")
		_ = msg.Ack()
	case apperr.IsCode(err, apperr.ErrCodeNotFound):
		c.log.Warn().
			Str("workflow_id", job.WorkflowID).
			Msg("recalculation job for unknown workflow; dropping")
		_ = msg.Term()
	default:
		c.log.Error().Err(err).
			Str("workflow_id", job.WorkflowID).
			Msg("recalculation failed; job will be redelivered")
		_ = msg.Nak()
	}
}
