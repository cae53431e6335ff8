// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"research-platform/pkg/errors"
)

// Store 作业存储：创建、查询、状态更新、原子认领与尝试审计
type Store interface {
	Create(ctx context.Context, j *FetchJob) (string, error)
	Get(ctx context.Context, jobID string) (*FetchJob, error)
	ListByTask(ctx context.Context, taskID string) ([]*FetchJob, error)
	// Update 写回作业状态；StrategyIndex 只增不减，回退会被拒绝。
	// 写为 Pending 的作业重新可被认领（退避由 NextRetryAt 表达）。
	Update(ctx context.Context, j *FetchJob) error
	// ClaimNextReady 原子取出一条 Pending 且 NextRetryAt 已到期的作业并置为
	// InFlight，带租约；租约过期的 InFlight 作业视同 Pending 重新可认领
	// （持有方崩溃后的恢复路径）。无则返回 nil, nil
	ClaimNextReady(ctx context.Context, now time.Time) (*FetchJob, error)
	AppendAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, jobID string) ([]*Attempt, error)
}

// DefaultLease 认领租约时长缺省值。须大于最长单次尝试
// （放宽超时 + 校验 + 投递重试）。
const DefaultLease = 2 * time.Minute

// StoreMem 内存实现：map + 就绪队列。认领跳过未到期作业，保持入队顺序。
type StoreMem struct {
	mu       sync.Mutex
	byID     map[string]*FetchJob
	pending  []string
	attempts map[string][]*Attempt
	lease    time.Duration
}

// NewStoreMem 创建内存 Store
func NewStoreMem() *StoreMem {
	return &StoreMem{
		byID:     make(map[string]*FetchJob),
		attempts: make(map[string][]*Attempt),
		lease:    DefaultLease,
	}
}

// SetLease 覆盖认领租约时长
func (s *StoreMem) SetLease(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.lease = d
	}
}

func (s *StoreMem) Create(ctx context.Context, j *FetchJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = "fetch-" + uuid.New().String()
	}
	j.State = StatePending
	j.CreatedAt = time.Now()
	j.UpdatedAt = j.CreatedAt
	cp := *j
	s.byID[j.ID] = &cp
	s.pending = append(s.pending, j.ID)
	return j.ID, nil
}

func (s *StoreMem) Get(ctx context.Context, jobID string) (*FetchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.byID[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *StoreMem) ListByTask(ctx context.Context, taskID string) ([]*FetchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*FetchJob
	for _, j := range s.byID {
		if j.TaskID == taskID {
			cp := *j
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (s *StoreMem) Update(ctx context.Context, j *FetchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[j.ID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "job %s", j.ID)
	}
	if j.StrategyIndex < cur.StrategyIndex {
		return errors.Wrapf(errors.ErrInvalidArg,
			"strategy index regression %d -> %d on job %s", cur.StrategyIndex, j.StrategyIndex, j.ID)
	}
	wasPending := cur.State == StatePending
	cp := *j
	cp.UpdatedAt = time.Now()
	s.byID[j.ID] = &cp
	if cp.State == StatePending && !wasPending {
		s.pending = append(s.pending, j.ID)
	}
	return nil
}

func (s *StoreMem) ClaimNextReady(ctx context.Context, now time.Time) (*FetchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 租约过期的 InFlight 作业放回队列（持有方已崩溃）
	for id, j := range s.byID {
		if j.State == StateInFlight && !j.LeaseExpiresAt.After(now) {
			j.State = StatePending
			j.UpdatedAt = time.Now()
			s.pending = append(s.pending, id)
		}
	}

	for i := 0; i < len(s.pending); i++ {
		id := s.pending[i]
		j, ok := s.byID[id]
		if !ok || j.State != StatePending {
			// 队列里的陈旧条目，丢弃
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			i--
			continue
		}
		if j.NextRetryAt.After(now) {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		j.State = StateInFlight
		j.LeaseExpiresAt = now.Add(s.lease)
		j.UpdatedAt = time.Now()
		cp := *j
		return &cp, nil
	}
	return nil, nil
}

func (s *StoreMem) AppendAttempt(ctx context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = "attempt-" + uuid.New().String()
	}
	cp := *a
	s.attempts[a.JobID] = append(s.attempts[a.JobID], &cp)
	return nil
}

func (s *StoreMem) ListAttempts(ctx context.Context, jobID string) ([]*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Attempt, 0, len(s.attempts[jobID]))
	for _, a := range s.attempts[jobID] {
		cp := *a
		list = append(list, &cp)
	}
	return list, nil
}
