package runner

import (
	"context"
	"errors"
)

// GeneratorBase gives a protocol the SendResult primitive for generator-mode
// runs. Embed it next to BaseProtocol; outside generator mode SendResult is a
// no-op.
type GeneratorBase struct {
	emit func(any)
}

type emitBinder interface {
	bindEmit(func(any))
}

func (g *GeneratorBase) bindEmit(f func(any)) { g.emit = f }

// SendResult hands one value to the consuming Generator. It may be called
// from any protocol callback; values emitted from ProcessExited and
// ConnectionLost are delivered after all pipe-originated values, in that
// relative order.
func (g *GeneratorBase) SendResult(v any) {
	if g.emit != nil {
		g.emit(v)
	}
}

// Generator is the pull side of a generator-mode run. Values cross an
// unbuffered channel, so each Next resumes exactly enough of the dispatch
// loop to produce the next value. A Generator must be drained (Next until
// false) or Closed; until then its Runner rejects new runs.
type Generator struct {
	values <-chan any
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// Start begins a generator-mode run and returns its Generator. The protocol
// built by the factory emits values through SendResult. Start fails with
// ErrInFlight while a previous run on this Runner is unfinished; after a
// sequence is exhausted the Runner is restartable, and a deterministic
// command reproduces the same ordered sequence.
func (r *Runner) Start(ctx context.Context) (*Generator, error) {
	if !r.active.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	ctx, cancel := context.WithCancel(ctx)
	values := make(chan any)
	g := &Generator{
		values: values,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	d := r.newDriver()
	d.emit = func(v any) {
		select {
		case values <- v:
		case <-ctx.Done():
		}
	}
	go func() {
		res, err := d.run(ctx)
		_, g.err = r.finish(res, err)
		r.active.Store(false)
		cancel()
		// done closes before values: once Next reports exhaustion, Err is
		// already terminal and the Runner already accepts new runs.
		close(g.done)
		close(values)
	}()
	return g, nil
}

// Next blocks until the protocol emits the next value. ok is false once the
// sequence is exhausted, including the values emitted during the exit phase.
func (g *Generator) Next() (v any, ok bool) {
	v, ok = <-g.values
	return v, ok
}

// Err reports the terminal status once the sequence is exhausted: nil for a
// clean zero exit, a *CommandError otherwise. Before exhaustion it returns
// nil.
func (g *Generator) Err() error {
	select {
	case <-g.done:
		return g.err
	default:
		return nil
	}
}

// Close abandons the run: the child is killed, the remaining values are
// discarded, and the Runner becomes available again. Closing an exhausted
// Generator just reports its terminal status.
func (g *Generator) Close() error {
	g.cancel()
	for {
		if _, ok := <-g.values; !ok {
			break
		}
	}
	<-g.done
	if errors.Is(g.err, context.Canceled) {
		return nil
	}
	return g.err
}
