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

package validate

import (
	"sync"
	"time"

	"research-platform/internal/fetch/strategy"
)

// Provenance 内容出处：URL、抓取时刻与成功时使用的策略
type Provenance struct {
	URL       string
	FetchedAt time.Time
	Strategy  strategy.Kind
}

// ValidatedContent 一次成功抓取的校验产物；创建后不可变
type ValidatedContent struct {
	JobID      string
	TaskID     string
	Text       string
	Provenance Provenance
	// Confidence 评估得分 ∈ [0,1]
	Confidence float64
	Accepted   bool
	// Reason 拒绝原因（low_confidence / contradiction），接受时为空
	Reason    string
	CreatedAt time.Time
}

// snippetLen 交叉引用片段截断长度
const snippetLen = 240

// ContentStore 已接受内容的进程内存储，为同任务后续校验提供交叉引用片段。
// 产物的权威副本通过投递交给引文协作方，这里只是任务生命周期内的工作集。
type ContentStore struct {
	mu     sync.RWMutex
	byJob  map[string]*ValidatedContent
	byTask map[string][]string
}

// NewContentStore 创建内容存储
func NewContentStore() *ContentStore {
	return &ContentStore{
		byJob:  make(map[string]*ValidatedContent),
		byTask: make(map[string][]string),
	}
}

// Put 记录一条已接受内容
func (s *ContentStore) Put(vc *ValidatedContent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *vc
	s.byJob[vc.JobID] = &cp
	s.byTask[vc.TaskID] = append(s.byTask[vc.TaskID], vc.JobID)
}

// Get 按 job 取内容；无则返回 nil
func (s *ContentStore) Get(jobID string) *ValidatedContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vc, ok := s.byJob[jobID]
	if !ok {
		return nil
	}
	cp := *vc
	return &cp
}

// ListByTask 返回任务下全部已接受内容，按接受先后排序
func (s *ContentStore) ListByTask(taskID string) []*ValidatedContent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*ValidatedContent
	for _, jobID := range s.byTask[taskID] {
		if vc, ok := s.byJob[jobID]; ok {
			cp := *vc
			list = append(list, &cp)
		}
	}
	return list
}

// Snippets 取同任务其他作业的内容开头片段，供交叉引用评估
func (s *ContentStore) Snippets(taskID, excludeJobID string, max int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snippets []string
	for _, jobID := range s.byTask[taskID] {
		if jobID == excludeJobID {
			continue
		}
		vc, ok := s.byJob[jobID]
		if !ok {
			continue
		}
		text := vc.Text
		if len(text) > snippetLen {
			text = text[:snippetLen]
		}
		snippets = append(snippets, text)
		if max > 0 && len(snippets) >= max {
			break
		}
	}
	return snippets
}
