package etcd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// prefixWatcher follows every change under prefix starting at a revision
// and survives watch cancellation and compaction.
type prefixWatcher struct {
	prefix       string
	nextRevision int64
	watcher      clientv3.Watcher
	onChange     func(puts, deletes int)
	log          zerolog.Logger
}

func (w *prefixWatcher) watch(ctx context.Context) clientv3.WatchChan {
	return w.watcher.Watch(
		ctx,
		w.prefix,
		clientv3.WithRev(w.nextRevision),
		clientv3.WithPrefix(),
	)
}

func (w *prefixWatcher) run(ctx context.Context) error {
	ctx = clientv3.WithRequireLeader(ctx)
	watchChan := w.watch(ctx)
	for {
		select {
		case resp, ok := <-watchChan:
			if !ok {
				w.log.Info().Msg("watch channel closed")
				return nil
			}
			if resp.CompactRevision > w.nextRevision {
				// missed events are not replayed, a signal is enough
				w.log.Warn().Msgf("revision %d compacted, continue from %d", w.nextRevision, resp.CompactRevision)
				w.nextRevision = resp.CompactRevision
				w.onChange(0, 0)
			}
			if resp.Canceled {
				w.log.Error().Err(resp.Err()).Msg("watch canceled, rewatch")
				watchChan = w.watch(ctx)
				continue
			}
			if err := resp.Err(); err != nil {
				w.log.Error().Err(err).Msg("got unexpected watch error")
				continue
			}
			w.nextRevision = resp.Header.Revision + 1
			if resp.IsProgressNotify() || len(resp.Events) == 0 {
				continue
			}
			var puts, deletes int
			for _, ev := range resp.Events {
				switch ev.Type {
				case mvccpb.PUT:
					puts++
				case mvccpb.DELETE:
					deletes++
				}
			}
			w.onChange(puts, deletes)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Notify signals every change under prefix. Signals are coalesced: a slow
// reader sees one notification for a burst of changes. The channel is
// closed once ctx is done.
func (s *Store) Notify(ctx context.Context, prefix string) (<-chan struct{}, error) {
	resp, err := s.etcd.KV.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to get start revision for %s: %w", prefix, err)
	}
	ch := make(chan struct{}, 1)
	w := &prefixWatcher{
		prefix:       prefix,
		nextRevision: resp.Header.Revision + 1,
		watcher:      s.etcd.Watcher,
		log:          log.With().Str("prefix", prefix).Logger(),
	}
	w.onChange = func(puts, deletes int) {
		w.log.Debug().Msgf("got %d puts and %d deletes", puts, deletes)
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	go func() {
		defer close(ch)
		_ = w.run(ctx)
	}()
	return ch, nil
}
