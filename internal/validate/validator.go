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
	"context"
	"time"

	"research-platform/pkg/config"
	"research-platform/pkg/errors"
	"research-platform/pkg/metrics"
	"research-platform/pkg/utils"
)

// 拒绝原因
const (
	ReasonLowConfidence = "low_confidence"
	ReasonContradiction = "contradiction"
)

// Assessor 置信度评估方（本地推理模型）。crossRefs 为同任务
// 其他已接受内容的片段，用于矛盾检测。
type Assessor interface {
	AssessConfidence(ctx context.Context, text string, crossRefs []string) (score float64, contradiction bool, err error)
}

// Validator 内容校验器。拒绝是内容质量决策，与抓取层重试策略无关。
type Validator struct {
	normalizer   *Normalizer
	assessor     Assessor
	contents     *ContentStore
	threshold    float64
	maxCrossRefs int
}

// NewValidator 按配置创建校验器
func NewValidator(cfg config.ValidationConfig, assessor Assessor, contents *ContentStore) *Validator {
	return &Validator{
		normalizer:   NewNormalizer(),
		assessor:     assessor,
		contents:     contents,
		threshold:    utils.DefaultFloat(cfg.ConfidenceThreshold, 0.7),
		maxCrossRefs: utils.DefaultInt(cfg.MaxCrossRefs, 3),
	}
}

// Validate 归一化载荷并评估置信度，产出不可变的 ValidatedContent。
// 载荷不可解析时返回 ErrUnparsable（调用方按 ParseError 处理）；
// 评估方不可用时返回 ErrUnavailable。
func (v *Validator) Validate(ctx context.Context, jobID, taskID string, payload []byte, contentType string, prov Provenance) (*ValidatedContent, error) {
	text, err := v.normalizer.Normalize(payload, contentType)
	if err != nil {
		return nil, err
	}

	crossRefs := v.contents.Snippets(taskID, jobID, v.maxCrossRefs)
	score, contradiction, err := v.assessor.AssessConfidence(ctx, text, crossRefs)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUnavailable, "assess confidence for job %s: %v", jobID, err)
	}
	metrics.ValidationScore.Observe(score)

	vc := &ValidatedContent{
		JobID:      jobID,
		TaskID:     taskID,
		Text:       text,
		Provenance: prov,
		Confidence: score,
		CreatedAt:  time.Now(),
	}
	switch {
	case contradiction:
		vc.Reason = ReasonContradiction
	case score < v.threshold:
		vc.Reason = ReasonLowConfidence
	default:
		vc.Accepted = true
		v.contents.Put(vc)
	}
	return vc, nil
}
