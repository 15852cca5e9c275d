package store

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/fxcache"
)

// Sync synchronizes two or more stores.
// It runs ListKeys on all input stores.
// When a key is found to be in some but not all stores,
// its blob is added to the stores where it's missing.
// A store that gains the key concurrently (ErrAlreadyExists) is not an error.
func Sync(ctx context.Context, stores []fxcache.Store) error {
	if len(stores) < 2 {
		return nil
	}

	type tuple struct {
		s   fxcache.Store
		ch  <-chan fxcache.Key
		key *fxcache.Key
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	eg, ctx2 := errgroup.WithContext(ctx)

	tuples := make([]*tuple, 0, len(stores))
	for _, s := range stores {
		s := s
		ch := make(chan fxcache.Key)
		eg.Go(func() error {
			defer close(ch)
			return s.ListKeys(ctx2, fxcache.Zero, func(key fxcache.Key) error {
				select {
				case <-ctx2.Done():
					return ctx2.Err()
				case ch <- key:
				}
				return nil
			})
		})
		tuples = append(tuples, &tuple{s: s, ch: ch})
	}

	errch := make(chan error, 1)
	go func() {
		errch <- eg.Wait()
		close(errch)
	}()

	// Every tuple starts out needing its first key.
	advance := tuples
	for {
		for _, tup := range advance {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case key, ok := <-tup.ch:
				if ok {
					key := key
					tup.key = &key
				} else {
					tup.key = nil
				}
			}
		}

		sort.Slice(tuples, func(i, j int) bool {
			ki, kj := tuples[i].key, tuples[j].key
			if ki != nil {
				if kj != nil {
					return ki.Less(*kj)
				}
				return true
			}
			return false
		})

		if tuples[0].key == nil {
			// We've reached the end of input on all channels.
			return <-errch
		}

		key := *(tuples[0].key)

		havers := []*tuple{tuples[0]}
		i := 1
		for i < len(tuples) && tuples[i].key != nil && *(tuples[i].key) == key {
			havers = append(havers, tuples[i])
			i++
		}
		advance = havers

		if i == len(tuples) {
			continue
		}

		for _, tup := range tuples[i:] {
			if err := copyBlob(ctx, havers[0].s, tup.s, key); err != nil {
				return err
			}
		}
	}
}

func copyBlob(ctx context.Context, from fxcache.Getter, to fxcache.Store, key fxcache.Key) error {
	rc, err := from.Get(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "getting blob for %s", key)
	}
	defer rc.Close()

	err = to.Put(ctx, key, rc)
	if errors.Is(err, fxcache.ErrAlreadyExists) {
		return nil
	}
	return errors.Wrapf(err, "storing blob for %s", key)
}
