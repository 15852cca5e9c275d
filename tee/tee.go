// Package tee lets any number of readers share one single-pass byte stream.
//
// A Registry wraps the source.
// Reading from the Registry reads from the source,
// and every chunk read is also delivered to each Tap registered at that moment.
// Taps are drained independently and at their own pace;
// the source is read only once per byte,
// and only as fast as the Registry's own reader pulls it.
//
// A Tap sees the bytes read after it was created, not earlier ones.
// Its queue is unbounded:
// delivering to a Tap never blocks the Registry's reader,
// so a Tap that is never drained holds every chunk until the source ends
// or the Tap is closed.
package tee

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// ErrAbandoned is what a Tap reports
// when the Registry was closed before its source reached the end.
var ErrAbandoned = errors.New("source abandoned before end of stream")

// Registry is an io.ReadCloser that copies everything it reads into its Taps.
//
// A Registry is not safe for concurrent use:
// Read, Tap, and Close must be called from one goroutine at a time.
// The Taps themselves may be read from other goroutines.
type Registry struct {
	src    io.Reader
	nextID uint64
	routes map[uint64]route

	done   bool  // the source has reached EOF or failed
	final  error // nil on clean EOF
	closed bool
}

type route struct {
	mb   mailbox
	gone <-chan struct{}
}

// New produces a Registry reading from src.
// If src is an io.Closer it is closed by the Registry's Close.
func New(src io.Reader) *Registry {
	return &Registry{
		src:    src,
		routes: make(map[uint64]route),
	}
}

// Tap registers a new Tap.
// It receives every chunk read from the source from now on.
// Tapping a Registry whose source has already ended
// yields a Tap that reports the same ending immediately.
func (r *Registry) Tap() *Tap {
	var (
		mb   = make(mailbox, 1)
		gone = make(chan struct{})
		t    = &Tap{mb: mb, gone: gone}
	)
	if r.done {
		if r.final != nil {
			mb.push(nil, r.final)
		}
		close(mb)
		return t
	}
	id := r.nextID
	r.nextID++
	r.routes[id] = route{mb: mb, gone: gone}
	return t
}

// NumTaps tells how many Taps are currently registered.
// A closed Tap stays registered until the next Read.
func (r *Registry) NumTaps() int {
	return len(r.routes)
}

// Read performs exactly one read on the source
// and hands a copy of whatever it got to every registered Tap.
// When the source fails,
// the Taps receive the error (after any bytes that came with it)
// and are then unregistered.
func (r *Registry) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if r.done {
		if r.final != nil {
			return 0, r.final
		}
		return 0, io.EOF
	}

	r.reconcile()

	n, err := r.src.Read(p)
	if n > 0 && len(r.routes) > 0 {
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		for _, rt := range r.routes {
			rt.mb.push(chunk, nil)
		}
	}
	if err == io.EOF {
		r.finish(nil)
	} else if err != nil {
		r.finish(err)
	}
	return n, err
}

// Close closes the source (if it is an io.Closer).
// Taps still registered get ErrAbandoned once they have consumed what they were sent,
// unless the source had already ended.
func (r *Registry) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if !r.done {
		r.finish(ErrAbandoned)
	}
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Drops routes whose Taps have been closed.
func (r *Registry) reconcile() {
	for id, rt := range r.routes {
		select {
		case <-rt.gone:
			delete(r.routes, id)
		default:
		}
	}
}

func (r *Registry) finish(err error) {
	r.done = true
	r.final = err
	for id, rt := range r.routes {
		if err != nil {
			rt.mb.push(nil, err)
		}
		close(rt.mb)
		delete(r.routes, id)
	}
}

// Tap is one reader's view of a Registry's stream.
//
// Read must not be called concurrently with itself.
// Close may be called from any goroutine, any number of times.
type Tap struct {
	mb   mailbox
	gone chan struct{}
	once sync.Once

	pending [][]byte
	cur     []byte
	err     error // reported once pending is drained
}

// Read returns bytes the Registry has read,
// blocking until some are available.
// It returns io.EOF after the source ended cleanly,
// the source's error if it failed,
// and ErrAbandoned if the Registry was closed early.
func (t *Tap) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(t.cur) == 0 {
		select {
		case <-t.gone:
			return 0, io.ErrClosedPipe
		default:
		}
		if len(t.pending) > 0 {
			t.cur = t.pending[0]
			t.pending[0] = nil
			t.pending = t.pending[1:]
			continue
		}
		if t.err != nil {
			return 0, t.err
		}
		select {
		case <-t.gone:
			return 0, io.ErrClosedPipe
		case b, ok := <-t.mb:
			if !ok {
				t.err = io.EOF
				continue
			}
			t.pending = b.chunks
			if b.err != nil {
				t.err = b.err
			}
		}
	}
	n := copy(p, t.cur)
	t.cur = t.cur[n:]
	return n, nil
}

// Close unregisters the Tap.
// The Registry notices on its next Read;
// chunks sent in the meantime are dropped.
func (t *Tap) Close() error {
	t.once.Do(func() { close(t.gone) })
	return nil
}

type batch struct {
	chunks [][]byte
	err    error
}

// A mailbox holds at most one batch of undelivered chunks.
// Only the Registry sends on it, so push never blocks:
// it either takes the waiting batch and extends it,
// or finds the slot empty and fills it.
type mailbox chan *batch

func (mb mailbox) push(chunk []byte, err error) {
	var b *batch
	select {
	case b = <-mb:
	default:
		b = new(batch)
	}
	if chunk != nil {
		b.chunks = append(b.chunks, chunk)
	}
	if err != nil {
		b.err = err
	}
	mb <- b
}
