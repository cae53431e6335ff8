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

package fetch

import (
	"time"

	"research-platform/internal/fetch/strategy"
)

// Outcome 单次抓取尝试的结构化结果。Executor 的所有失败路径都表达为
// Outcome 字段，不向边界外抛错。
type Outcome struct {
	Strategy    strategy.Kind
	StartedAt   time.Time
	EndedAt     time.Time
	StatusCode  int
	Body        []byte
	ContentType string
	// Err 网络层错误；HTTP 非 2xx 不算 Err，由分类器按状态码判定
	Err error
	// TimedOut 是否触发了本次尝试的硬超时
	TimedOut bool
}

// Duration 尝试耗时
func (o Outcome) Duration() time.Duration {
	return o.EndedAt.Sub(o.StartedAt)
}
