package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

const (
	DefaultMaxInFlight = 8
	DefaultQueueSize   = 32
)

type DispatcherOptions struct {
	Pipeline    *Pipeline
	MaxInFlight int
	QueueSize   int
	Logger      *slog.Logger
}

// Dispatcher fans inbound events out to one worker goroutine per chat,
// so turns within a chat stay ordered while different chats run
// concurrently. A shared semaphore bounds total in-flight processing.
type Dispatcher struct {
	pipe      *Pipeline
	ctx       context.Context
	sem       chan struct{}
	queueSize int
	logger    *slog.Logger

	mu      sync.Mutex
	workers map[string]chan Event
	wg      sync.WaitGroup
}

func NewDispatcher(ctx context.Context, opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	maxInFlight := opts.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pipe:      opts.Pipeline,
		ctx:       ctx,
		sem:       make(chan struct{}, maxInFlight),
		queueSize: queueSize,
		logger:    logger,
		workers:   make(map[string]chan Event),
	}, nil
}

// Enqueue hands the event to its chat's worker, creating the worker on
// first use. It blocks only while the chat's queue is full.
func (d *Dispatcher) Enqueue(ctx context.Context, ev Event) error {
	if ev.ChatID == "" {
		return fmt.Errorf("chat id is required")
	}
	if ctx == nil {
		ctx = d.ctx
	}
	// Checked before the select: a buffered send can otherwise win the
	// race against the closed done channel and accept an event no worker
	// will ever process.
	if err := d.ctx.Err(); err != nil {
		return err
	}
	jobs := d.workerFor(ev.ChatID)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return d.ctx.Err()
	case jobs <- ev:
		return nil
	}
}

func (d *Dispatcher) workerFor(chatID string) chan Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	if jobs, ok := d.workers[chatID]; ok {
		return jobs
	}
	jobs := make(chan Event, d.queueSize)
	d.workers[chatID] = jobs
	d.wg.Add(1)
	go d.run(jobs)
	return jobs
}

// Wait blocks until every chat worker has exited or waitCtx expires.
// Meaningful only after the dispatcher's own context is cancelled.
func (d *Dispatcher) Wait(waitCtx context.Context) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
	}
}

func (d *Dispatcher) run(jobs <-chan Event) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			d.drain(jobs)
			return
		case ev, ok := <-jobs:
			if !ok {
				return
			}
			select {
			case d.sem <- struct{}{}:
			case <-d.ctx.Done():
				d.dropEvent(ev)
				d.drain(jobs)
				return
			}
			d.pipe.Process(d.ctx, ev)
			<-d.sem
		}
	}
}

// drain logs anything still queued at shutdown so no accepted event
// disappears untracked.
func (d *Dispatcher) drain(jobs <-chan Event) {
	for {
		select {
		case ev := <-jobs:
			d.dropEvent(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) dropEvent(ev Event) {
	d.logger.Warn("dispatcher_event_dropped",
		"chat_id", ev.ChatID, "message_id", ev.MessageID, "type", string(ev.Type))
}
