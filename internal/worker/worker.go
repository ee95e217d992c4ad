package worker

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"git.home.luguber.info/inful/buildrelay/internal/broker"
	"git.home.luguber.info/inful/buildrelay/internal/foundation/errors"
	"git.home.luguber.info/inful/buildrelay/internal/jobkey"
	"git.home.luguber.info/inful/buildrelay/internal/logfields"
	"git.home.luguber.info/inful/buildrelay/internal/metrics"
	"git.home.luguber.info/inful/buildrelay/internal/retry"
)

// consumeBackoff is the pause after a failed consume before trying again.
const consumeBackoff = time.Second

// heartbeatsPerAckWait is how many progress signals fit into one ack wait.
const heartbeatsPerAckWait = 3

// Worker is the long-lived consume loop. It processes exactly one job at a time.
type Worker struct {
	pipeline *Pipeline
	consumer broker.Consumer
	retry    retry.Policy
	recorder metrics.Recorder

	// heartbeat is the InProgress interval while a job runs; zero disables it.
	heartbeat time.Duration
}

// New creates a worker reading from consumer.
func New(p *Pipeline, consumer broker.Consumer, policy retry.Policy) *Worker {
	return &Worker{
		pipeline:  p,
		consumer:  consumer,
		retry:     policy,
		recorder:  p.recorder,
		heartbeat: p.cfg.Broker.AckWait / heartbeatsPerAckWait,
	}
}

// Run consumes until ctx is cancelled or the consumer is closed. Cancellation
// lets the job in flight finish; its acknowledgement is sent before Run returns.
// Consume failures are logged and never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("Worker started")
	defer slog.Info("Worker stopped")
	for {
		msg, err := w.consumer.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, broker.ErrClosed) {
				return nil
			}
			slog.Error("Failed to consume job", logfields.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(consumeBackoff):
			}
			continue
		}
		w.Handle(context.WithoutCancel(ctx), msg)
	}
}

// Handle processes one delivery and settles it with the broker.
func (w *Worker) Handle(ctx context.Context, msg broker.Message) {
	delivery := msg.Delivery()
	key, err := jobkey.Parse(string(msg.Value()))
	if err != nil {
		slog.Error("Dropping malformed job descriptor", logfields.Delivery(delivery), logfields.Error(err))
		w.ack(msg, "")
		return
	}
	log := slog.With(logfields.CorrelationKey(key.String()), logfields.Delivery(delivery))

	stop := w.keepAlive(msg, log)
	_, err = w.pipeline.Process(ctx, key, delivery)
	stop()
	if err == nil {
		w.ack(msg, key.String())
		return
	}

	if willRetry(err, w.pipeline.FinalAttempt(delivery)) {
		delay := w.retry.Delay(int(delivery))
		log.Warn("Job failed; handing back for redelivery", logfields.Error(err), logfields.Duration(delay))
		w.recorder.IncRedelivery(string(errors.GetCategory(err)))
		if nerr := msg.Nak(delay); nerr != nil {
			log.Error("Failed to nak message", logfields.Error(nerr))
		}
		return
	}
	log.Error("Job failed permanently", logfields.Error(err))
	w.ack(msg, key.String())
}

// keepAlive tells the broker the delivery is still being worked on every
// heartbeat until stop is called, so long builds are not redelivered to a
// second worker. stop returns once the last signal has been sent.
func (w *Worker) keepAlive(msg broker.Message, log *slog.Logger) (stop func()) {
	if w.heartbeat <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(w.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := msg.InProgress(); err != nil {
					log.Warn("Failed to extend ack deadline", logfields.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (w *Worker) ack(msg broker.Message, key string) {
	if err := msg.Ack(); err != nil {
		slog.Error("Failed to ack message", logfields.CorrelationKey(key), logfields.Error(err))
	}
}
