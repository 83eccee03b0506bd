// Package queue serializes tasks per key. Tasks under one key run one at a time
// in submission order; different keys run concurrently.
package queue

import (
	"context"
	"sync"
)

// Task is a unit of work; ctx is the submitter's context.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	task Task
	done chan error
}

type lane struct {
	jobs    []job
	running bool
}

// Queue holds one lane per key. A lane's worker goroutine starts on the first
// job and exits when the lane drains.
type Queue struct {
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

func New() *Queue {
	return &Queue{lanes: make(map[string]*lane)}
}

// Enqueue schedules task under key and returns a channel that receives its result.
func (q *Queue) Enqueue(key string, task Task) <-chan error {
	return q.enqueue(context.Background(), key, task)
}

// Do schedules task under key and blocks until it ran or ctx ended.
// A task whose ctx ended while waiting is skipped with ctx.Err().
func (q *Queue) Do(ctx context.Context, key string, task Task) error {
	done := q.enqueue(ctx, key, task)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) enqueue(ctx context.Context, key string, task Task) <-chan error {
	j := job{ctx: ctx, task: task, done: make(chan error, 1)}

	q.mu.Lock()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	l.jobs = append(l.jobs, j)
	start := !l.running
	if start {
		l.running = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if start {
		go q.run(key, l)
	}
	return j.done
}

func (q *Queue) run(key string, l *lane) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if len(l.jobs) == 0 {
			l.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		j := l.jobs[0]
		l.jobs[0] = job{}
		l.jobs = l.jobs[1:]
		q.mu.Unlock()

		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.task(j.ctx)
	}
}

// Pending returns the number of queued (not yet started) tasks for key.
func (q *Queue) Pending(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.lanes[key]; ok {
		return len(l.jobs)
	}
	return 0
}

// Wait blocks until every lane has drained.
func (q *Queue) Wait() {
	q.wg.Wait()
}
