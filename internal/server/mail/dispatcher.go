package mail

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Kind selects which email a task sends.
type Kind int

const (
	KindConfirmation Kind = iota
	KindPasswordReset
)

func (k Kind) String() string {
	switch k {
	case KindConfirmation:
		return "confirmation"
	case KindPasswordReset:
		return "password_reset"
	default:
		return "unknown"
	}
}

type task struct {
	kind Kind
	msg  Message
}

// Dispatcher sends emails on background workers so requests never wait on
// SMTP. Submit never blocks: when the queue is full the email is dropped and
// logged.
type Dispatcher struct {
	sender  Sender
	queue   chan task
	workers int
	logger  logging.Logger

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(s Sender, workers, queueSize int, l logging.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		sender:  s,
		queue:   make(chan task, queueSize),
		workers: workers,
		logger:  l.With("module", "mail_dispatcher"),
	}
}

// Submit enqueues an email and reports whether it was accepted.
func (d *Dispatcher) Submit(ctx context.Context, kind Kind, m Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn(ctx, "mail dispatcher stopped, dropping email", "kind", kind.String(), "email", m.Email)
		return false
	}

	select {
	case d.queue <- task{kind: kind, msg: m}:
		return true
	default:
		d.logger.Warn(ctx, "mail queue full, dropping email", "kind", kind.String(), "email", m.Email)
		return false
	}
}

// Run starts the workers and blocks until ctx is done and every queued email
// has been attempted.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.work(gctx)
			return nil
		})
	}

	<-ctx.Done()
	d.mu.Lock()
	d.closed = true
	d.logger.Info(ctx, "draining mail queue", "pending", len(d.queue))
	close(d.queue)
	d.mu.Unlock()

	return g.Wait()
}

func (d *Dispatcher) work(ctx context.Context) {
	for t := range d.queue {
		d.deliver(ctx, t)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t task) {
	var err error
	switch t.kind {
	case KindConfirmation:
		err = d.sender.SendConfirmation(ctx, t.msg)
	case KindPasswordReset:
		err = d.sender.SendPasswordReset(ctx, t.msg)
	}
	if err != nil {
		d.logger.Error(ctx, "send email failed", "kind", t.kind.String(), "email", t.msg.Email, "error", err)
		return
	}
	d.logger.Debug(ctx, "email sent", "kind", t.kind.String(), "email", t.msg.Email)
}
