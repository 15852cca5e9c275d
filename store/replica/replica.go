// Package replica implements a blob store that writes to several nested stores at once.
package replica

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/fxcache"
	"github.com/bobg/fxcache/store"
)

var _ fxcache.Store = (*Store)(nil)

// Store is a blob store that delegates reads and writes to two sets of nested stores.
// One set is synchronous:
// writes to all of these must succeed before a call to Put returns,
// and an error from any will cause Put to fail.
// The other set is asynchronous:
// a call to Put queues writes on these stores but does not wait for them to finish.
// However, if any asynchronous write encounters an error
// (other than fxcache.ErrAlreadyExists),
// the whole Store is put into an error state and further operations will fail.
type Store struct {
	sync   []fxcache.Store
	async  []chan<- item
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex // protects err
	err error      // the error from an async goroutine, if any
}

type item struct {
	key  fxcache.Key
	blob []byte
}

// New produces a new Store.
// The set of synchronous stores must be non-empty.
// The set of asynchronous stores may be empty.
// If there are any asynchronous stores,
// a goroutine is launched for each,
// running until ctx is canceled or Close is called.
//
// Normally, writes to asynchronous stores do not block calls to Put,
// but the queue for each nested store has a fixed length given by n,
// which must be 1 or greater.
// If any async store falls too far behind,
// Put will block until all requests can be queued.
func New(ctx context.Context, sync []fxcache.Store, async []fxcache.Store, n int) *Store {
	result := &Store{sync: sync}
	ctx, result.cancel = context.WithCancel(ctx)

	for _, a := range async {
		items := make(chan item, n)
		result.async = append(result.async, items)

		result.wg.Add(1)
		go func(a fxcache.Store) {
			defer result.wg.Done()
			if err := runAsync(ctx, a, items); err != nil {
				result.setErr(err)
			}
		}(a)
	}

	return result
}

// Close stops the asynchronous writers and waits for them to exit.
// Writes still queued are dropped.
// It reports the error from any asynchronous write that failed.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return errors.Wrap(s.checkErr(), "in async-store goroutine")
}

// Runs until ctx is canceled or a write fails.
func runAsync(ctx context.Context, s fxcache.Store, items <-chan item) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case it := <-items:
			err := s.Put(ctx, it.key, bytes.NewReader(it.blob))
			if errors.Is(err, fxcache.ErrAlreadyExists) {
				continue
			}
			if err != nil {
				return errors.Wrapf(err, "storing %s asynchronously", it.key)
			}
		}
	}
}

// Put reads all of r and stores it in all synchronous nested stores.
// An error from any of them causes Put to return an error.
// Put reports fxcache.ErrAlreadyExists only when every synchronous store already had the key.
//
// A request to write the blob is queued for any asynchronous nested stores.
// Normally this does not block the call to Put,
// but if any async store falls too far behind,
// Put must wait for space to open in its request queue before proceeding.
// The size of this queue is given by the int passed to New.
func (s *Store) Put(ctx context.Context, key fxcache.Key, r io.Reader) error {
	if err := s.checkErr(); err != nil {
		return errors.Wrap(err, "in async-store goroutine")
	}

	blob, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading blob")
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		added   = make([]bool, len(s.sync))
	)
	for i, nested := range s.sync {
		i, nested := i, nested
		g.Go(func() error {
			err := nested.Put(gctx, key, bytes.NewReader(blob))
			if errors.Is(err, fxcache.ErrAlreadyExists) {
				return nil
			}
			added[i] = err == nil
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	for _, ch := range s.async {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch <- item{key: key, blob: blob}:
		}
	}

	for _, a := range added {
		if a {
			return nil
		}
	}
	return fxcache.ErrAlreadyExists
}

// Get tries each synchronous store in turn,
// returning the blob from the first one that has it.
// If none has it and any failed, one of the failures is returned.
func (s *Store) Get(ctx context.Context, key fxcache.Key) (io.ReadCloser, error) {
	if err := s.checkErr(); err != nil {
		return nil, errors.Wrap(err, "in async-store goroutine")
	}

	var firstErr error
	for _, nested := range s.sync {
		rc, err := nested.Get(ctx, key)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, fxcache.ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, fxcache.ErrNotFound
}

// ListKeys delegates the request to all of the synchronous stores in s
// and synthesizes the result from the union of their keys.
func (s *Store) ListKeys(ctx context.Context, start fxcache.Key, f func(fxcache.Key) error) error {
	if err := s.checkErr(); err != nil {
		return errors.Wrap(err, "in async-store goroutine")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	chans := make([]chan fxcache.Key, len(s.sync))
	for i, nested := range s.sync {
		var (
			ch     = make(chan fxcache.Key, 1)
			nested = nested
		)
		chans[i] = ch
		g.Go(func() error {
			defer close(ch)
			return nested.ListKeys(ctx, start, func(key fxcache.Key) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case ch <- key:
					return nil
				}
			})
		})
	}

	// A zero key marks an exhausted channel.
	next := make([]fxcache.Key, len(chans))
	for i, ch := range chans {
		next[i] = <-ch
	}

	for {
		var (
			best      fxcache.Key
			bestIndex = -1
		)
		for i, key := range next {
			if key.IsZero() {
				continue
			}
			if bestIndex < 0 || key.Less(best) {
				best, bestIndex = key, i
			}
		}
		if bestIndex < 0 {
			break
		}
		if err := f(best); err != nil {
			cancel()
			g.Wait()
			return err
		}
		for i, key := range next {
			if key == best {
				next[i] = <-chans[i]
			}
		}
	}

	return g.Wait()
}

func (s *Store) checkErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func init() {
	store.Register("replica", func(ctx context.Context, conf map[string]interface{}) (fxcache.Store, error) {
		syncStores, err := nestedList(ctx, conf, "sync")
		if err != nil {
			return nil, err
		}
		if len(syncStores) == 0 {
			return nil, errors.New(`missing "sync" parameter`)
		}
		asyncStores, err := nestedList(ctx, conf, "async")
		if err != nil {
			return nil, err
		}
		queueLen, ok := store.IntParam(conf, "queuelen")
		if !ok || queueLen < 1 {
			queueLen = 10
		}
		return New(ctx, syncStores, asyncStores, queueLen), nil
	})
}

func nestedList(ctx context.Context, conf map[string]interface{}, name string) ([]fxcache.Store, error) {
	list, _ := conf[name].([]interface{})

	var result []fxcache.Store
	for _, elt := range list {
		nested, ok := elt.(map[string]interface{})
		if !ok {
			return nil, errors.Errorf(`%q item is not an object`, name)
		}
		nestedType, ok := nested["type"].(string)
		if !ok {
			return nil, errors.Errorf(`%q item missing "type"`, name)
		}
		s, err := store.Create(ctx, nestedType, nested)
		if err != nil {
			return nil, errors.Wrapf(err, "creating nested %s store", name)
		}
		result = append(result, s)
	}
	return result, nil
}
