package kde

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// parallelRows calls fn over contiguous row ranges covering [0, n), one
// goroutine per range. If numWorkers <= 1 it runs fn(0, n) on the calling
// goroutine. Ranges don't overlap, so fn needs no synchronization for
// per-row writes.
func parallelRows(n, numWorkers int, fn func(start, end int)) {
	if numWorkers <= 1 || n <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup
	rowsPerWorker := (n + numWorkers - 1) / numWorkers

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		if startRow >= n {
			break
		}
		endRow := min(startRow+rowsPerWorker, n)

		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(startRow, endRow)
	}

	wg.Wait()
}

// forEachTask runs fn(0) .. fn(n-1) with at most numWorkers running at once
// and returns the first error. With numWorkers <= 1 tasks run in order on the
// calling goroutine.
func forEachTask(n, numWorkers int, fn func(i int) error) error {
	if numWorkers <= 1 || n <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(numWorkers)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}
