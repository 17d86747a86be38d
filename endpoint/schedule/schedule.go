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

// Package schedule sends or publishes messages on the event bus on a cron schedule.
//
// Cron expressions have a leading seconds field:
//
//	Field name   | Mandatory? | Allowed values  | Allowed special characters
//	----------   | ---------- | --------------  | --------------------------
//	Seconds      | Yes        | 0-59            | * / , -
//	Minutes      | Yes        | 0-59            | * / , -
//	Hours        | Yes        | 0-23            | * / , -
//	Day of month | Yes        | 1-31            | * / , - ?
//	Month        | Yes        | 1-12 or JAN-DEC | * / , -
//	Day of week  | Yes        | 0-6 or SUN-SAT  | * / , - ?
//
// Descriptors such as @hourly, @daily and @every 1m are accepted too.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/robfig/cron/v3"

	"github.com/rulego/webbus/api/types"
	"github.com/rulego/webbus/api/types/endpoint"
	"github.com/rulego/webbus/eventbus"
	"github.com/rulego/webbus/utils/maps"
)

// Type 组件类型
const Type = "schedule"

// Headers set on scheduled messages.
const (
	KeyJobId       = "jobId"
	KeyScheduledAt = "scheduledAt"
)

// Endpoint 别名
type Endpoint = Schedule

var _ endpoint.Endpoint = (*Schedule)(nil)

// Job is a message emitted on every Cron tick.
type Job struct {
	Cron    string
	Address string
	Body    interface{}
	Headers map[string]string
	// Publish delivers to every consumer instead of one.
	Publish bool
}

// Config 定时任务配置
type Config struct {
	Jobs []Job
}

// Schedule 定时任务端点
type Schedule struct {
	id      string
	Config  Config
	Env     endpoint.Env
	OnEvent endpoint.OnEvent

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
}

// New creates a scheduler for env and adds the jobs of config.
func New(env endpoint.Env, config Config) (*Schedule, error) {
	uuId, _ := uuid.NewV4()
	schedule := &Schedule{id: uuId.String()}
	if err := schedule.init(env, config); err != nil {
		return nil, err
	}
	return schedule, nil
}

// Type 组件类型
func (schedule *Schedule) Type() string {
	return Type
}

func (schedule *Schedule) New() endpoint.Endpoint {
	uuId, _ := uuid.NewV4()
	return &Schedule{id: uuId.String()}
}

// Init 初始化
func (schedule *Schedule) Init(env endpoint.Env, configuration types.Configuration) error {
	var config Config
	if err := maps.Map2Struct(configuration, &config); err != nil {
		return err
	}
	return schedule.init(env, config)
}

func (schedule *Schedule) init(env endpoint.Env, config Config) error {
	if env.Bus == nil {
		return errors.New("schedule needs an event bus")
	}
	schedule.Env = env
	schedule.Config = config
	logger := cron.PrintfLogger(types.NewLogger(env.Config.Logger))
	schedule.cron = cron.New(cron.WithSeconds(), cron.WithLogger(logger), cron.WithChain(cron.Recover(logger)))
	for _, job := range config.Jobs {
		if _, err := schedule.AddJob(job); err != nil {
			return err
		}
	}
	return nil
}

func (schedule *Schedule) Id() string {
	return schedule.id
}

func (schedule *Schedule) SetOnEvent(onEvent endpoint.OnEvent) {
	schedule.OnEvent = onEvent
}

// AddJob schedules job and returns its id, used by RemoveJob.
func (schedule *Schedule) AddJob(job Job) (string, error) {
	if job.Address == "" {
		return "", eventbus.ErrEmptyAddress
	}
	c, err := schedule.getCron()
	if err != nil {
		return "", err
	}
	// the entry may fire before AddFunc returns once the scheduler runs
	var entryID int64
	id, err := c.AddFunc(job.Cron, func() {
		schedule.fire(strconv.FormatInt(atomic.LoadInt64(&entryID), 10), job)
	})
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", job.Cron, err)
	}
	atomic.StoreInt64(&entryID, int64(id))
	return strconv.Itoa(int(id)), nil
}

// RemoveJob unschedules the job with id.
func (schedule *Schedule) RemoveJob(id string) error {
	entryID, err := strconv.Atoi(id)
	if err != nil {
		return fmt.Errorf("%s it is an illegal job id", id)
	}
	c, err := schedule.getCron()
	if err != nil {
		return err
	}
	c.Remove(cron.EntryID(entryID))
	return nil
}

// JobCount returns the number of scheduled jobs.
func (schedule *Schedule) JobCount() int {
	c, err := schedule.getCron()
	if err != nil {
		return 0
	}
	return len(c.Entries())
}

func (schedule *Schedule) Start() error {
	c, err := schedule.getCron()
	if err != nil {
		return err
	}
	schedule.mu.Lock()
	defer schedule.mu.Unlock()
	if schedule.started {
		return nil
	}
	c.Start()
	schedule.started = true
	if schedule.OnEvent != nil {
		schedule.OnEvent(endpoint.EventInitServer, schedule)
	}
	return nil
}

// Close stops the scheduler. Running jobs are not waited for.
func (schedule *Schedule) Close() error {
	schedule.mu.Lock()
	defer schedule.mu.Unlock()
	if schedule.cron != nil && schedule.started {
		schedule.cron.Stop()
		schedule.started = false
		if schedule.OnEvent != nil {
			schedule.OnEvent(endpoint.EventCompletedServer, nil)
		}
	}
	return nil
}

func (schedule *Schedule) Printf(format string, v ...interface{}) {
	types.NewLogger(schedule.Env.Config.Logger).Printf(format, v...)
}

func (schedule *Schedule) getCron() (*cron.Cron, error) {
	schedule.mu.Lock()
	defer schedule.mu.Unlock()
	if schedule.cron == nil {
		return nil, errors.New("cron has not been initialized yet")
	}
	return schedule.cron, nil
}

// fire emits the message of job.
func (schedule *Schedule) fire(id string, job Job) {
	opts := []eventbus.DeliveryOption{
		eventbus.WithHeaders(job.Headers),
		eventbus.WithHeader(KeyJobId, id),
		eventbus.WithHeader(KeyScheduledAt, time.Now().Format(time.RFC3339)),
	}
	bus := schedule.Env.Bus
	var err error
	if job.Publish {
		err = bus.Publish(job.Address, job.Body, opts...)
	} else {
		err = bus.Send(job.Address, job.Body, opts...)
	}
	if err != nil {
		schedule.Printf("schedule job %s to %s: %v", id, job.Address, err)
	}
}
