package pipeline

import (
	"context"
	"sync"

	"github.com/hydroshare/hsextract/pkg/types"
)

// forEach calls fn for 0..n-1 on at most jobs goroutines. Remaining indexes
// are dropped once ctx is done.
func forEach(ctx context.Context, jobs, n int, fn func(i int)) {
	if jobs > n {
		jobs = n
	}
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				fn(i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()
}

// ResultHandler receives the outcome of every event handled by Run.
type ResultHandler func(result types.Result, err error)

// Run handles events with the pipeline's worker count until events is closed
// or ctx is done. Events for different aggregations proceed in parallel.
func (p *Pipeline) Run(ctx context.Context, events <-chan types.Event, onResult ResultHandler) {
	var wg sync.WaitGroup
	for w := 0; w < p.jobs; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-events:
					if !ok {
						return
					}
					result, err := p.Handle(ctx, ev)
					if onResult != nil {
						onResult(result, err)
					}
				}
			}
		}()
	}
	wg.Wait()
}
