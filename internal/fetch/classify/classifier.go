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

// Package classify 失败分类器：把一次抓取结果映射为失败类别。
// 规则声明式、按序求值，显式封锁信号优先于通用状态码映射。
package classify

import (
	"bytes"
	"net/http"

	"research-platform/internal/fetch"
)

// Kind 失败类别（含 Success）。不同类别驱动不同的升级决策。
type Kind string

const (
	KindSuccess          Kind = "success"
	KindBlocked          Kind = "blocked"
	KindRateLimited      Kind = "rate_limited"
	KindTimeout          Kind = "timeout"
	KindParseError       Kind = "parse_error"
	KindTransientNetwork Kind = "transient_network"
)

// 反爬挑战页的正文特征。命中任意一个即判 Blocked，
// 与状态码无关（渲染抓取的挑战页可能带 200）。
var defaultChallengeMarkers = [][]byte{
	[]byte("cf-chl"),
	[]byte("__cf_chl"),
	[]byte("captcha"),
	[]byte("Attention Required"),
	[]byte("Access Denied"),
	[]byte("unusual traffic"),
}

// 与机器人防御强相关的状态码，直接判 Blocked
var defaultBlockedStatuses = map[int]bool{
	http.StatusForbidden: true,
}

// rule 单条分类规则
type rule struct {
	name  string
	match func(o fetch.Outcome) bool
	kind  Kind
}

// Classifier 有序规则链；零值不可用，经 NewClassifier 构建
type Classifier struct {
	rules []rule
}

// Option 自定义分类信号
type Option func(*options)

type options struct {
	blockedStatuses  map[int]bool
	challengeMarkers [][]byte
}

// WithBlockedStatuses 覆盖判定为 Blocked 的状态码集合
func WithBlockedStatuses(statuses ...int) Option {
	return func(o *options) {
		o.blockedStatuses = make(map[int]bool, len(statuses))
		for _, s := range statuses {
			o.blockedStatuses[s] = true
		}
	}
}

// WithChallengeMarkers 覆盖挑战页正文特征
func WithChallengeMarkers(markers ...string) Option {
	return func(o *options) {
		o.challengeMarkers = make([][]byte, 0, len(markers))
		for _, m := range markers {
			o.challengeMarkers = append(o.challengeMarkers, []byte(m))
		}
	}
}

// NewClassifier 构建分类器。规则顺序即求值顺序：
// 超时 → 网络错误 → 封锁信号 → 限流 → 成功 → 服务端错误兜底。
func NewClassifier(opts ...Option) *Classifier {
	o := &options{
		blockedStatuses:  defaultBlockedStatuses,
		challengeMarkers: defaultChallengeMarkers,
	}
	for _, fn := range opts {
		fn(o)
	}

	hasMarker := func(body []byte) bool {
		for _, m := range o.challengeMarkers {
			if bytes.Contains(body, m) {
				return true
			}
		}
		return false
	}

	return &Classifier{rules: []rule{
		{
			name: "attempt timeout",
			match: func(out fetch.Outcome) bool {
				return out.TimedOut
			},
			kind: KindTimeout,
		},
		{
			name: "network error",
			match: func(out fetch.Outcome) bool {
				return out.Err != nil
			},
			kind: KindTransientNetwork,
		},
		{
			name: "blocked status",
			match: func(out fetch.Outcome) bool {
				return o.blockedStatuses[out.StatusCode]
			},
			kind: KindBlocked,
		},
		{
			name: "challenge page",
			match: func(out fetch.Outcome) bool {
				// 503 挡板页和带 200 的渲染挑战页都靠正文特征识别
				return hasMarker(out.Body) &&
					(out.StatusCode == http.StatusServiceUnavailable || isSuccessStatus(out.StatusCode))
			},
			kind: KindBlocked,
		},
		{
			name: "rate limited",
			match: func(out fetch.Outcome) bool {
				return out.StatusCode == http.StatusTooManyRequests
			},
			kind: KindRateLimited,
		},
		{
			name: "empty success body",
			match: func(out fetch.Outcome) bool {
				return isSuccessStatus(out.StatusCode) && len(bytes.TrimSpace(out.Body)) == 0
			},
			kind: KindParseError,
		},
		{
			name: "success",
			match: func(out fetch.Outcome) bool {
				return isSuccessStatus(out.StatusCode)
			},
			kind: KindSuccess,
		},
	}}
}

// Classify 按序匹配规则；无规则命中时兜底为 TransientNetwork
func (c *Classifier) Classify(out fetch.Outcome) Kind {
	for _, r := range c.rules {
		if r.match(out) {
			return r.kind
		}
	}
	return KindTransientNetwork
}

func isSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}
