package history

import (
	"context"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketplace/pkg/exchange"
	"github.com/uhyunpark/marketplace/pkg/util"
)

// Recorder moves match events from engine hooks into an Archive on its own
// goroutine. Events arriving while the queue is full are dropped.
type Recorder struct {
	archive Archive
	queue   chan Record
	log     *zap.SugaredLogger
}

func NewRecorder(archive Archive, queueSize int, logger *zap.SugaredLogger) *Recorder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Recorder{archive: archive, queue: make(chan Record, queueSize), log: util.OrNop(logger)}
}

// Observe has the signature of an engine match hook.
func (r *Recorder) Observe(ev exchange.MatchEvent) {
	rec := FromEvent(ev)
	select {
	case r.queue <- rec:
	default:
		r.log.Warnw("history_queue_full", "match", rec.ID)
	}
}

// Run drains the queue until ctx is done, then flushes what is left.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case rec := <-r.queue:
			r.write(ctx, rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.write(context.Background(), rec)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, rec Record) {
	if err := r.archive.Append(ctx, rec); err != nil {
		r.log.Errorw("history_append_failed", "match", rec.ID, "err", err)
	}
}
