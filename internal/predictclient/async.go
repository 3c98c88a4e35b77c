package predictclient

import (
	"context"
	"sync"
)

// Result is the outcome of one call: exactly one of Value or Err is
// meaningful.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is a call running in the background. Its result is set exactly once.
type Future[T any] struct {
	done chan struct{}
	res  Result[T]
}

func start[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		v, err := fn(ctx)
		f.res = Result[T]{Value: v, Err: err}
		close(f.done)
	}()
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the call finishes or ctx ends. A ctx that ends first
// does not stop the call; cancel the context the call was started with for
// that.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the result and whether it is available yet.
func (f *Future[T]) Result() (Result[T], bool) {
	select {
	case <-f.done:
		return f.res, true
	default:
		return Result[T]{}, false
	}
}

// FetchSummaryAsync runs FetchSummary in the background.
func (c *Client) FetchSummaryAsync(ctx context.Context, patientID string) *Future[SummaryData] {
	return start(ctx, func(ctx context.Context) (SummaryData, error) {
		return c.FetchSummary(ctx, patientID)
	})
}

// RequestPredictionAsync runs RequestPrediction in the background.
func (c *Client) RequestPredictionAsync(ctx context.Context, text string) *Future[string] {
	return start(ctx, func(ctx context.Context) (string, error) {
		return c.RequestPrediction(ctx, text)
	})
}

// Scope owns the calls started for one caller lifetime, such as a screen.
// Closing it cancels calls still in flight and drops their continuations.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewScope derives a scope from parent.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	return &Scope{ctx: ctx, cancel: cancel}
}

// Context is cancelled when the scope closes.
func (s *Scope) Context() context.Context { return s.ctx }

// Closed reports whether Close has been called.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close cancels in-flight calls. Continuations that have not started by now
// never run. Close does not wait for running goroutines; use Wait for that.
func (s *Scope) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until every call started through the scope has returned.
func (s *Scope) Wait() { s.wg.Wait() }

// deliver runs cont unless the scope closed. The lock is held while cont
// runs so Close cannot interleave with a delivery.
func (s *Scope) deliver(cont func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	cont()
	return true
}

// Go runs call in the background and hands its result to cont exactly once,
// unless the scope closes first. It returns false without starting anything
// when the scope is already closed. cont must not call back into s.
func Go[T any](s *Scope, call func(context.Context) (T, error), cont func(T, error)) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		v, err := call(s.ctx)
		s.deliver(func() { cont(v, err) })
	}()
	return true
}
