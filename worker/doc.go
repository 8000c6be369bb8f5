// Package worker provides a bounded worker pool for per-definition work.
//
// Submit blocks until a worker takes the job, so at most Workers jobs are
// in flight and nothing waits in a queue. Jobs that were handed to a
// worker always run to completion: cancelling the submission context only
// stops further submissions.
//
// Example usage:
//
//	pool := worker.NewPool(convertOne, 4)
//	go func() {
//	    defer pool.Close()
//	    for i, def := range defs {
//	        if !pool.Submit(ctx, worker.Job[*model.Definition]{ID: def.URL(), Index: i, Input: def}) {
//	            return
//	        }
//	    }
//	}()
//	for r := range pool.Results() {
//	    // r.Output, r.Err
//	}
//
// Process wraps this pattern and returns results in submission order.
package worker
