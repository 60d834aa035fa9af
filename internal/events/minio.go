package events

import (
	"context"
	"sync"
	"time"

	"github.com/hydroshare/hsextract/internal/log"
	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/minio/minio-go/v7/pkg/notification"
	"go.uber.org/zap"
)

// Notifier is the part of *minio.Client the listener uses.
type Notifier interface {
	ListenBucketNotification(ctx context.Context, bucketName, prefix, suffix string, events []string) <-chan notification.Info
}

var listenEvents = []string{
	string(notification.ObjectCreatedAll),
	string(notification.ObjectRemovedAll),
}

// Listener streams MinIO bucket notifications for a set of buckets.
type Listener struct {
	client  Notifier
	buckets []string
	dedupe  *Deduper
	logger  *log.Logger
	// Backoff is the pause before listening again after a stream ends.
	Backoff time.Duration
}

var _ Source = (*Listener)(nil)

func NewListener(client Notifier, buckets []string, dedupe *Deduper, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.Nop()
	}
	return &Listener{
		client:  client,
		buckets: buckets,
		dedupe:  dedupe,
		logger:  logger,
		Backoff: time.Second,
	}
}

// Run listens on every bucket until ctx is done. Stream errors are logged and
// the stream is reopened.
func (l *Listener) Run(ctx context.Context, out chan<- types.Event) error {
	var wg sync.WaitGroup
	for _, bucket := range l.buckets {
		wg.Add(1)
		go func(bucket string) {
			defer wg.Done()
			l.listen(ctx, bucket, out)
		}(bucket)
	}
	wg.Wait()
	return ctx.Err()
}

func (l *Listener) listen(ctx context.Context, bucket string, out chan<- types.Event) {
	for {
		l.logger.Info("Listening for bucket notifications", zap.String("bucket", bucket))
		for info := range l.client.ListenBucketNotification(ctx, bucket, "", "", listenEvents) {
			if info.Err != nil {
				l.logger.Error("Bucket notification failed", info.Err, zap.String("bucket", bucket))
				continue
			}
			for _, rec := range info.Records {
				ev, ok := FromRecord(rec)
				if !ok || l.dedupe.Seen(ev) {
					continue
				}
				l.dedupe.Mark(ev)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.Backoff):
		}
	}
}
