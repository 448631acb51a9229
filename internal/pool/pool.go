// Package pool provides the ready queue behind dependency-aware scheduling.
// A package becomes ready once all of its build dependencies that are part
// of the same run have finished; workers pull ready packages in resolver
// order. If a worker asks for the next package while everything pending is
// still blocked, it waits until a completion wakes it up.
package pool

import (
	"context"
	"slices"
	"sync"
)

// Queue hands out packages in dependency order. All methods are safe for
// concurrent use.
type Queue struct {
	mu          sync.Mutex
	pending     []string
	waiting     map[string]int
	dependents  map[string][]string
	outstanding int
	wait        chan struct{}
}

// New builds a queue over order, which must already be sorted by the
// resolver. deps reports the build dependencies of a package; dependencies
// that are not part of order are satisfied externally and never block.
func New(order []string, deps func(string) []string) *Queue {
	q := &Queue{
		pending:    slices.Clone(order),
		waiting:    make(map[string]int, len(order)),
		dependents: make(map[string][]string),
	}

	inRun := make(map[string]bool, len(order))
	for _, name := range order {
		inRun[name] = true
	}
	for _, name := range order {
		for _, dep := range deps(name) {
			if !inRun[dep] || dep == name {
				continue
			}
			q.waiting[name]++
			q.dependents[dep] = append(q.dependents[dep], name)
		}
	}
	return q
}

// Next blocks until a package is ready and returns it, or returns false when
// the queue is drained or ctx is cancelled. With one worker the hand-out
// order is exactly the resolver order.
func (q *Queue) Next(ctx context.Context) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.pending) == 0 {
			return "", false
		}

		if i := slices.IndexFunc(q.pending, func(name string) bool { return q.waiting[name] == 0 }); i != -1 {
			return q.take(i), true
		}

		// Every pending package waits on an unfinished dependency. If no
		// build is outstanding, nothing can unblock them: the remainder is
		// cyclic, so release the oldest pending package to break the cycle.
		if q.outstanding == 0 {
			return q.take(0), true
		}

		if q.wait == nil {
			q.wait = make(chan struct{})
		}
		wait := q.wait

		q.mu.Unlock()
		select {
		case <-ctx.Done():
			q.mu.Lock()
			return "", false
		case <-wait:
		}
		q.mu.Lock()
	}
}

// Done marks a package finished, successfully or not, and unblocks its
// dependents. Failures unblock too: dependents get their build attempt
// either way.
func (q *Queue) Done(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.outstanding--
	for _, dependent := range q.dependents[name] {
		q.waiting[dependent]--
	}
	delete(q.dependents, name)
	q.wake()
}

// take must be called with q.mu held.
func (q *Queue) take(i int) string {
	name := q.pending[i]
	q.pending = slices.Delete(q.pending, i, i+1)
	q.outstanding++
	return name
}

// wake must be called with q.mu held.
func (q *Queue) wake() {
	if q.wait != nil {
		close(q.wait)
		q.wait = nil
	}
}
