// Package workerpool provides a small fixed-size worker pool used to
// run oracle dispatch jobs off the controller's critical path.
package workerpool

import (
	"errors"
	"runtime"
	"sync"
)

// Config configures a WorkerPool.
type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

// WorkerPool runs queued jobs on a fixed set of workers.
type WorkerPool struct {
	config    Config
	taskQueue chan func()

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ErrQueueFull is returned by Submit when the global buffer has no
// free slot.
var ErrQueueFull = errors.New("workerpool: global buffer is full")

// NewWorkerPool creates a pool and starts its workers.
func NewWorkerPool(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU()
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 1024
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}

	for i := 0; i < config.WorkerCount; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}

	return wp
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.taskQueue {
		job()
	}
}

// Submit enqueues a job, returning ErrQueueFull if the buffer is
// full.
func (wp *WorkerPool) Submit(job func()) error {
	select {
	case wp.taskQueue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues a job, blocking until a buffer slot is free.
func (wp *WorkerPool) SubmitWait(job func()) {
	wp.taskQueue <- job
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() {
		close(wp.taskQueue)
	})
	wp.wg.Wait()
}
