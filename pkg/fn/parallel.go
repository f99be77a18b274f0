package fn

import (
	"context"
	"sync"
)

// ParMapResult applies f to every item with at most workers calls in flight
// and returns the results in input order.
//
// Once ctx is done no further items are started; their slots hold ctx.Err().
// Items already running are waited for, so f must itself honour ctx.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, int, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if workers <= 0 {
		workers = len(items)
	}
	if workers == 0 {
		return out
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)

	for i, v := range items {
		if err := ctx.Err(); err != nil {
			fillErr(out[i:], err)
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			fillErr(out[i:], ctx.Err())
			wg.Wait()
			return out
		}

		wg.Add(1)
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(ctx, i, v)
		}(i, v)
	}
	wg.Wait()
	return out
}

func fillErr[U any](rs []Result[U], err error) {
	for i := range rs {
		rs[i] = Err[U](err)
	}
}
