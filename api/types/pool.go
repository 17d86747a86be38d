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

package types

import "context"

// Pool is a goroutine pool. The default implementation is `pool.WorkerPool`.
// Pool 协程池接口，默认实现是 `pool.WorkerPool`。
type Pool interface {
	// Submit hands task to an idle worker. It returns an error if the pool is full or stopped.
	// 如果协程池满或已停止返回错误
	Submit(task func()) error
	// SubmitWait blocks until a worker accepts task or ctx is done.
	SubmitWait(ctx context.Context, task func()) error
	// Release stops the pool.
	Release()
}

// GoPool is a Pool that starts one goroutine per task. It never rejects work.
type GoPool struct{}

func (GoPool) Submit(task func()) error {
	go task()
	return nil
}

func (GoPool) SubmitWait(_ context.Context, task func()) error {
	go task()
	return nil
}

func (GoPool) Release() {}
