package capturesync

import (
	"context"
	"fmt"
	"time"

	"github.com/luweisystem/reflectsync/internal/emotion"
)

type Logger interface {
	Printf(format string, args ...any)
}

// TriggerPolicy decides when the coordinator attempts delivery: once after
// StartDelay (catching the case where connectivity was already there when the
// process started), then once per pulse on Online. Tests feed the channel
// directly instead of simulating timers or network events.
type TriggerPolicy struct {
	StartDelay time.Duration
	Online     <-chan struct{}
}

// Coordinator flushes the pending intent queue to the remote endpoint and
// clears delivered intents only on confirmed success. Every failure leaves the
// queue untouched for the next trigger.
type Coordinator struct {
	queue  emotion.IntentQueue
	client RemoteClient
	logger Logger
}

func NewCoordinator(queue emotion.IntentQueue, client RemoteClient, logger Logger) (*Coordinator, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &Coordinator{
		queue:  queue,
		client: client,
		logger: logger,
	}, nil
}

// FlushOnce delivers the current queue contents as one batch. An empty queue
// is a no-op with no network activity. On success exactly the flushed prefix
// is cleared, so intents enqueued while the batch was in flight stay queued.
func (c *Coordinator) FlushOnce(ctx context.Context) error {
	batch := c.queue.Snapshot()
	if len(batch) == 0 {
		return nil
	}
	result, err := c.client.PostBatch(ctx, batch)
	if err != nil {
		c.logf("flush of %d intents failed: %v", len(batch), err)
		return err
	}
	if !result.OK {
		err := fmt.Errorf("%w: batch rejected: %s", ErrRequestFailed, result.Error)
		c.logf("flush of %d intents failed: %v", len(batch), err)
		return err
	}
	if err := c.queue.Clear(len(batch)); err != nil {
		c.logf("flushed %d intents but failed to clear queue: %v", len(batch), err)
		return err
	}
	if result.Dummy {
		c.logf("flushed %d intents locally (no remote configured)", len(batch))
	} else {
		c.logf("flushed %d intents, remote saved %d", len(batch), result.Saved)
	}
	return nil
}

// Run drives FlushOnce from the trigger policy until ctx is done.
func (c *Coordinator) Run(ctx context.Context, policy TriggerPolicy) {
	if policy.StartDelay > 0 {
		timer := time.NewTimer(policy.StartDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	_ = c.FlushOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-policy.Online:
			if !ok {
				return
			}
			_ = c.FlushOnce(ctx)
		}
	}
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Printf(format, args...)
}
