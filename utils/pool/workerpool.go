/*
 * Copyright 2025 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package pool provides a bounded worker pool used for event bus deliveries and
// blocking route handlers.
//
// Package pool 提供有界工作池，用于事件总线投递和阻塞路由处理器。
//
// Note: This file is inspired by:
// Valyala, A. (2023) workerpool.go (Version 1.48.0)
// [Source code]. https://github.com/valyala/fasthttp/blob/master/workerpool.go
// 1.Change the Serve(c net.Conn) method to Submit(fn func()) error method
// 2.Add SubmitWait, which waits for a free worker instead of failing
package pool

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrNoIdleWorkers is returned by Submit when every worker is busy and the pool is full.
	ErrNoIdleWorkers = errors.New("no idle workers")
	// ErrPoolStopped is returned when work is submitted to a stopped pool.
	ErrPoolStopped = errors.New("worker pool stopped")
)

// waitPollInterval bounds how long SubmitWait sleeps between two attempts when it
// missed a release notification.
const waitPollInterval = 5 * time.Millisecond

// WorkerPool serves incoming functions using a pool of workers in FILO order.
// The most recently stopped worker will serve the next incoming function.
//
// WorkerPool 使用工作池以 FILO 顺序处理传入函数，最近空闲的工作者处理下一个函数。
//
//	pool := &WorkerPool{MaxWorkersCount: 20}
//	pool.Start()
//	defer pool.Stop()
//	err := pool.Submit(func() { ... })
type WorkerPool struct {
	// MaxWorkersCount is the maximum number of workers that can be created.
	MaxWorkersCount int

	// MaxIdleWorkerDuration is the maximum duration a worker can remain idle
	// before being cleaned up. Default is 10 seconds.
	MaxIdleWorkerDuration time.Duration

	// PanicHandler receives the value of a panicking task. The worker survives the panic.
	PanicHandler func(v interface{})

	lock         sync.Mutex
	workersCount int
	mustStop     bool
	ready        []*workerChan
	stopCh       chan struct{}
	// released is signalled, without blocking, each time a worker becomes idle.
	released       chan struct{}
	workerChanPool sync.Pool
	startOnce      sync.Once
}

type workerChan struct {
	lastUseTime time.Time
	ch          chan func()
}

// Start initializes the pool and its idle worker cleaner. Calling it twice is harmless.
func (wp *WorkerPool) Start() {
	wp.startOnce.Do(func() {
		wp.lock.Lock()
		wp.stopCh = make(chan struct{})
		wp.released = make(chan struct{}, 1)
		stopCh := wp.stopCh
		wp.lock.Unlock()

		wp.workerChanPool.New = func() interface{} {
			return &workerChan{
				ch: make(chan func(), workerChanCap),
			}
		}

		go func() {
			var scratch []*workerChan
			for {
				wp.clean(&scratch)
				select {
				case <-stopCh:
					return
				case <-time.After(wp.getMaxIdleWorkerDuration()):
				}
			}
		}()
	})
}

// Stop stops accepting tasks and terminates idle workers. Busy workers exit after
// their current task.
// Stop 停止接受新任务并终止空闲工作者，忙碌的工作者完成当前任务后退出。
func (wp *WorkerPool) Stop() {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	if wp.stopCh == nil || wp.mustStop {
		return
	}
	close(wp.stopCh)

	for i := range wp.ready {
		wp.ready[i].ch <- nil
		wp.ready[i] = nil
	}
	wp.ready = wp.ready[:0]
	wp.mustStop = true
}

// Release is an alias for Stop.
func (wp *WorkerPool) Release() {
	wp.Stop()
}

// WorkersCount returns the number of live workers.
func (wp *WorkerPool) WorkersCount() int {
	wp.lock.Lock()
	defer wp.lock.Unlock()
	return wp.workersCount
}

func (wp *WorkerPool) getMaxIdleWorkerDuration() time.Duration {
	if wp.MaxIdleWorkerDuration <= 0 {
		return 10 * time.Second
	}
	return wp.MaxIdleWorkerDuration
}

// clean removes idle workers that exceeded the maximum idle duration.
func (wp *WorkerPool) clean(scratch *[]*workerChan) {
	criticalTime := time.Now().Add(-wp.getMaxIdleWorkerDuration())

	wp.lock.Lock()
	ready := wp.ready
	n := len(ready)

	// binary search for the least recently used worker that can be cleaned up.
	l, r, mid := 0, n-1, 0
	for l <= r {
		mid = (l + r) / 2
		if criticalTime.After(wp.ready[mid].lastUseTime) {
			l = mid + 1
		} else {
			r = mid - 1
		}
	}
	i := r
	if i == -1 {
		wp.lock.Unlock()
		return
	}

	*scratch = append((*scratch)[:0], ready[:i+1]...)
	m := copy(ready, ready[i+1:])
	for i = m; i < n; i++ {
		ready[i] = nil
	}
	wp.ready = ready[:m]
	wp.lock.Unlock()

	// Notify obsolete workers outside the lock, ch.ch may block.
	tmp := *scratch
	for i := range tmp {
		tmp[i].ch <- nil
		tmp[i] = nil
	}
}

// Submit hands fn to an idle worker, or starts a new one if the pool is not full.
// It returns ErrNoIdleWorkers when the pool is full and ErrPoolStopped after Stop.
func (wp *WorkerPool) Submit(fn func()) error {
	wp.Start()
	ch, err := wp.getCh()
	if err != nil {
		return err
	}
	ch.ch <- fn
	return nil
}

// SubmitWait is like Submit but waits for a worker to become idle when the pool is
// full. It returns ctx.Err() if ctx is done first.
// SubmitWait 与 Submit 类似，但在池满时等待空闲工作者。
func (wp *WorkerPool) SubmitWait(ctx context.Context, fn func()) error {
	for {
		err := wp.Submit(fn)
		if err != ErrNoIdleWorkers {
			return err
		}
		timer := time.NewTimer(waitPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-wp.released:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// workerChanCap is 0 with GOMAXPROCS=1, so Submit switches to the worker immediately,
// and 1 otherwise, so that the submitter does not lag behind a CPU-bound worker.
var workerChanCap = func() int {
	if runtime.GOMAXPROCS(0) == 1 {
		return 0
	}
	return 1
}()

func (wp *WorkerPool) getCh() (*workerChan, error) {
	var ch *workerChan
	createWorker := false

	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return nil, ErrPoolStopped
	}
	ready := wp.ready
	n := len(ready) - 1
	if n < 0 {
		if wp.workersCount < wp.MaxWorkersCount {
			createWorker = true
			wp.workersCount++
		}
	} else {
		ch = ready[n]
		ready[n] = nil
		wp.ready = ready[:n]
	}
	wp.lock.Unlock()

	if ch == nil {
		if !createWorker {
			return nil, ErrNoIdleWorkers
		}
		vch := wp.workerChanPool.Get()
		ch = vch.(*workerChan)
		go func() {
			wp.workerFunc(ch)
			wp.workerChanPool.Put(vch)
		}()
	}
	return ch, nil
}

func (wp *WorkerPool) release(ch *workerChan) bool {
	ch.lastUseTime = time.Now()

	wp.lock.Lock()
	if wp.mustStop {
		wp.lock.Unlock()
		return false
	}
	wp.ready = append(wp.ready, ch)
	wp.lock.Unlock()

	select {
	case wp.released <- struct{}{}:
	default:
	}
	return true
}

func (wp *WorkerPool) workerFunc(ch *workerChan) {
	for fn := range ch.ch {
		if fn == nil {
			break
		}
		wp.run(fn)
		if !wp.release(ch) {
			break
		}
	}

	wp.lock.Lock()
	wp.workersCount--
	wp.lock.Unlock()
}

func (wp *WorkerPool) run(fn func()) {
	defer func() {
		if v := recover(); v != nil && wp.PanicHandler != nil {
			wp.PanicHandler(v)
		}
	}()
	fn()
}
