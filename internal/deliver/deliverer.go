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

package deliver

import (
	"context"
	"time"

	"research-platform/internal/validate"
	"research-platform/pkg/config"
	"research-platform/pkg/errors"
	"research-platform/pkg/log"
	"research-platform/pkg/metrics"
	"research-platform/pkg/utils"
)

// Recorder 引文协作方：按出处与内容生成引文记录
type Recorder interface {
	Record(ctx context.Context, content *validate.ValidatedContent) (citationID string, err error)
}

// Deliverer 幂等投递器。投递键为 job id：先原子占位，占到的调用方
// 才转发，同一 job 跨进程重复调用只产生一条引文。
type Deliverer struct {
	records  RecordStore
	recorder Recorder
	retryMax int
	backoff  time.Duration
	logger   *log.Logger
}

// NewDeliverer 按配置创建投递器
func NewDeliverer(cfg config.DeliveryConfig, records RecordStore, recorder Recorder, logger *log.Logger) *Deliverer {
	return &Deliverer{
		records:  records,
		recorder: recorder,
		retryMax: utils.DefaultInt(cfg.RetryMax, 3),
		backoff:  config.ParseDuration(cfg.Backoff, time.Second),
		logger:   logger.Component("deliverer"),
	}
}

// Deliver 投递一条已接受内容。重复投递返回 duplicate=true 且不触达
// 协作方；重试预算耗尽时回滚占位并返回 ErrUnavailable。
func (d *Deliverer) Deliver(ctx context.Context, content *validate.ValidatedContent) (citationID string, duplicate bool, err error) {
	first, err := d.records.MarkDelivered(ctx, content.JobID)
	if err != nil {
		return "", false, errors.Wrap(err, "mark delivered")
	}
	if !first {
		metrics.DeliveryTotal.WithLabelValues("duplicate").Inc()
		d.logger.Info("skip duplicate delivery", "job_id", content.JobID)
		return "", true, nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.retryMax; attempt++ {
		citationID, lastErr = d.recorder.Record(ctx, content)
		if lastErr == nil {
			metrics.DeliveryTotal.WithLabelValues("delivered").Inc()
			return citationID, false, nil
		}
		d.logger.Warn("citation record failed",
			"job_id", content.JobID, "attempt", attempt, "err", lastErr)
		if attempt == d.retryMax {
			break
		}
		timer := time.NewTimer(d.backoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
			attempt = d.retryMax
		case <-timer.C:
		}
	}

	// 转发彻底失败：撤销占位，让后续补投成为可能
	if clearErr := d.records.Clear(ctx, content.JobID); clearErr != nil {
		d.logger.Error("clear delivery record failed", "job_id", content.JobID, "err", clearErr)
	}
	metrics.DeliveryTotal.WithLabelValues("failed").Inc()
	return "", false, errors.Wrapf(errors.ErrUnavailable, "deliver job %s: %v", content.JobID, lastErr)
}
