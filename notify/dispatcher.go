// Package notify delivers committed task events to external sinks without
// blocking the request path.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/purushoth411/postmanback/domain"
)

// Sink delivers one encoded event.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev domain.Event, payload []byte) error
}

// Options tunes the dispatcher pool.
type Options struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
	SendTimeout    time.Duration
	Logger         *log.Logger
}

// Dispatcher fans events out to sinks from a bounded worker pool. Notify
// never blocks longer than the hand-off timeout; events that cannot be
// handed off are dropped and logged.
type Dispatcher struct {
	jobs    chan domain.Event
	sinks   []Sink
	handoff time.Duration
	send    time.Duration
	log     *log.Logger
	wg      sync.WaitGroup
	close   sync.Once
	dropped atomic.Uint64
}

// NewDispatcher starts the worker pool.
func NewDispatcher(opts Options, sinks ...Sink) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Buffer < 0 {
		opts.Buffer = 0
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	d := &Dispatcher{
		jobs:    make(chan domain.Event, opts.Buffer),
		sinks:   sinks,
		handoff: opts.HandoffTimeout,
		send:    opts.SendTimeout,
		log:     opts.Logger,
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.log.Infof("event dispatcher started, workers: %d, buffer: %d, handoff: %v, sinks: %d", opts.Workers, opts.Buffer, opts.HandoffTimeout, len(sinks))
	return d
}

// Notify hands ev to the pool.
func (d *Dispatcher) Notify(ev domain.Event) {
	if d.tryEnqueue(ev) {
		return
	}
	d.dropped.Add(1)
	d.log.WithFields(log.Fields{"event": ev.ID, "type": ev.Type, "task": ev.TaskID}).Warn("event dropped, dispatcher busy")
}

// Dropped reports how many events could not be handed off.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.close.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for ev := range d.jobs {
		d.deliver(id, ev)
	}
}

func (d *Dispatcher) deliver(worker int, ev domain.Event) {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		d.log.WithError(err).WithField("event", ev.ID).Error("event encoding failed")
		return
	}
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.send)
		err := s.Send(ctx, ev, payload)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(log.Fields{
				"sink":   s.Name(),
				"event":  ev.ID,
				"type":   ev.Type,
				"task":   ev.TaskID,
				"worker": worker,
			}).Error("event delivery failed")
		}
	}
}

func (d *Dispatcher) tryEnqueue(ev domain.Event) bool {
	if ok, closed := trySendNonBlocking(d.jobs, ev); closed {
		return false
	} else if ok {
		return true
	}
	if d.handoff <= 0 {
		return false
	}
	timer := time.NewTimer(d.handoff)
	defer timer.Stop()
	ok, _ := sendWithTimer(d.jobs, ev, timer.C)
	return ok
}

// trySendNonBlocking reports closed when the channel was closed under us.
func trySendNonBlocking(ch chan domain.Event, ev domain.Event) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()
	select {
	case ch <- ev:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan domain.Event, ev domain.Event, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()
	select {
	case ch <- ev:
		return true, false
	case <-timer:
		return false, false
	}
}
