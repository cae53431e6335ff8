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

package research

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"research-platform/pkg/errors"
)

// Store 任务存储
type Store interface {
	Create(ctx context.Context, t *Task) (string, error)
	Get(ctx context.Context, taskID string) (*Task, error)
	List(ctx context.Context) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	// TryFinalize 原子写入终态：仅当任务尚未终态时生效，返回是否写入。
	// 两个并发的收敛者只有一个会成功。
	TryFinalize(ctx context.Context, t *Task) (bool, error)
	// RequestCancel 置取消标志；已终态的任务不受影响
	RequestCancel(ctx context.Context, taskID string) error
}

// StoreMem 内存实现
type StoreMem struct {
	mu   sync.Mutex
	byID map[string]*Task
}

// NewStoreMem 创建内存 Store
func NewStoreMem() *StoreMem {
	return &StoreMem{byID: make(map[string]*Task)}
}

func (s *StoreMem) Create(ctx context.Context, t *Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = "task-" + uuid.New().String()
	}
	t.Status = StatusPending
	t.TotalTargets = len(t.TargetURLs)
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := cloneTask(t)
	s.byID[t.ID] = cp
	return t.ID, nil
}

func (s *StoreMem) Get(ctx context.Context, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[taskID]
	if !ok {
		return nil, nil
	}
	return cloneTask(t), nil
}

func (s *StoreMem) List(ctx context.Context) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Task, 0, len(s.byID))
	for _, t := range s.byID {
		list = append(list, cloneTask(t))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

func (s *StoreMem) Update(ctx context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; !ok {
		return errors.Wrapf(errors.ErrNotFound, "task %s", t.ID)
	}
	cp := cloneTask(t)
	cp.UpdatedAt = time.Now()
	s.byID[t.ID] = cp
	return nil
}

func (s *StoreMem) TryFinalize(ctx context.Context, t *Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[t.ID]
	if !ok {
		return false, errors.Wrapf(errors.ErrNotFound, "task %s", t.ID)
	}
	if cur.Status.Terminal() {
		return false, nil
	}
	cp := cloneTask(t)
	cp.UpdatedAt = time.Now()
	s.byID[t.ID] = cp
	return true, nil
}

func (s *StoreMem) RequestCancel(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[taskID]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "task %s", taskID)
	}
	if t.Status.Terminal() {
		return nil
	}
	t.CancelRequested = true
	t.UpdatedAt = time.Now()
	return nil
}

func cloneTask(t *Task) *Task {
	cp := *t
	cp.TargetURLs = append([]string(nil), t.TargetURLs...)
	return &cp
}
