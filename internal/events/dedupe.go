package events

import (
	"time"

	"github.com/hydroshare/hsextract/pkg/types"
	"github.com/jellydator/ttlcache/v3"
)

// Deduper suppresses repeats of the same notification within a TTL. Callers
// check Seen before handling an event and Mark it once handling succeeded, so
// a delivery that failed is processed again when it is retried.
type Deduper struct {
	cache *ttlcache.Cache[string, struct{}]
}

func NewDeduper(ttl time.Duration) *Deduper {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	go cache.Start()
	return &Deduper{cache: cache}
}

func key(ev types.Event) string {
	return string(ev.Type) + "\x00" + ev.Path + "\x00" + ev.ETag
}

// Seen reports whether ev was marked within the TTL. A nil Deduper has seen
// nothing.
func (d *Deduper) Seen(ev types.Event) bool {
	if d == nil {
		return false
	}
	return d.cache.Get(key(ev)) != nil
}

// Mark records ev as handled.
func (d *Deduper) Mark(ev types.Event) {
	if d == nil {
		return
	}
	d.cache.Set(key(ev), struct{}{}, ttlcache.DefaultTTL)
}

func (d *Deduper) Stop() {
	if d == nil {
		return
	}
	d.cache.Stop()
}
