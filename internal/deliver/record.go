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

// Package deliver 去重投递层：已投递 job id 的持久记录 + 对引文协作方的
// 幂等转发。传输层 at-least-once，靠投递记录的原子 check-and-set 收敛为
// 逻辑上的 exactly-once。
package deliver

import (
	"context"
	"sync"
)

// RecordStore 已投递 job id 的持久记录。MarkDelivered 必须是原子
// check-and-set：并发与跨进程重复调用中恰好一个调用方拿到 first=true。
type RecordStore interface {
	MarkDelivered(ctx context.Context, jobID string) (first bool, err error)
	Delivered(ctx context.Context, jobID string) (bool, error)
	// Clear 撤销记录，仅在转发预算耗尽后回滚用
	Clear(ctx context.Context, jobID string) error
}

// RecordStoreMem 内存实现，测试与单机模式用
type RecordStoreMem struct {
	mu        sync.Mutex
	delivered map[string]bool
}

// NewRecordStoreMem 创建内存投递记录
func NewRecordStoreMem() *RecordStoreMem {
	return &RecordStoreMem{delivered: make(map[string]bool)}
}

func (s *RecordStoreMem) MarkDelivered(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delivered[jobID] {
		return false, nil
	}
	s.delivered[jobID] = true
	return true, nil
}

func (s *RecordStoreMem) Delivered(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered[jobID], nil
}

func (s *RecordStoreMem) Clear(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.delivered, jobID)
	return nil
}
