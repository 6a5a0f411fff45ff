// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package datacache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultPurgeSchedule runs the janitor every five minutes.
const DefaultPurgeSchedule = "*/5 * * * *"

// Janitor deletes expired rows on a cron schedule. Reads already hide
// expired rows, so purging only reclaims space.
type Janitor struct {
	store    Store
	schedule string
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	engine  *cron.Cron
	entryID cron.EntryID
	cancel  context.CancelFunc
}

// NewJanitor validates schedule (standard 5-field cron) and returns a
// stopped janitor.
func NewJanitor(store Store, schedule string, logger *zap.Logger) (*Janitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if schedule == "" {
		schedule = DefaultPurgeSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:    store,
		schedule: schedule,
		logger:   logger.Named("datacache.janitor"),
		now:      time.Now,
	}, nil
}

// Start schedules purges until Stop or until ctx is done.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.engine != nil {
		return fmt.Errorf("janitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	engine := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	id, err := engine.AddFunc(j.schedule, func() {
		if _, err := j.RunOnce(runCtx); err != nil {
			j.logger.Warn("datacache purge failed", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule purge: %w", err)
	}
	j.engine = engine
	j.entryID = id
	j.cancel = cancel
	engine.Start()

	go func() {
		<-runCtx.Done()
		j.stopEngine(engine)
	}()

	j.logger.Info("datacache janitor started", zap.String("schedule", j.schedule))
	return nil
}

// RunOnce purges expired rows now.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	n, err := j.store.Purge(ctx, j.now())
	if err != nil {
		return n, err
	}
	if n > 0 {
		j.logger.Info("purged expired datacache rows", zap.Int64("rows", n))
	}
	return n, nil
}

// Next returns the next scheduled purge time, zero when stopped.
func (j *Janitor) Next() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.engine == nil {
		return time.Time{}
	}
	return j.engine.Entry(j.entryID).Next
}

// Stop halts the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	engine := j.engine
	j.mu.Unlock()
	j.stopEngine(engine)
}

// stopEngine stops engine if it is still the active one.
func (j *Janitor) stopEngine(engine *cron.Cron) {
	j.mu.Lock()
	if engine == nil || j.engine != engine {
		j.mu.Unlock()
		return
	}
	j.engine = nil
	cancel := j.cancel
	j.mu.Unlock()

	<-engine.Stop().Done()
	cancel()
	j.logger.Info("datacache janitor stopped")
}
