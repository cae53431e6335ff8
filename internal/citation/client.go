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

// Package citation 引文协作方客户端。投递去重在 deliver 层完成，
// 这里只负责单次转发。
package citation

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"

	"research-platform/internal/validate"
	"research-platform/pkg/config"
	"research-platform/pkg/errors"
)

// Client 引文协作方 HTTP 客户端，实现 deliver.Recorder
type Client struct {
	http *resty.Client
}

// NewClient 按配置创建客户端；apiKey 已由调用方解析（env / secret 引用）
func NewClient(cfg config.DeliveryConfig, apiKey string) *Client {
	c := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(15 * time.Second)
	if apiKey != "" {
		c.SetHeader("X-API-Key", apiKey)
	}
	return &Client{http: c}
}

type recordRequest struct {
	JobID      string    `json:"job_id"`
	TaskID     string    `json:"task_id"`
	URL        string    `json:"url"`
	FetchedAt  time.Time `json:"fetched_at"`
	Strategy   string    `json:"strategy"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
}

type recordResponse struct {
	CitationID string `json:"citation_id"`
}

// Record 实现 deliver.Recorder
func (c *Client) Record(ctx context.Context, content *validate.ValidatedContent) (string, error) {
	var out recordResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(recordRequest{
			JobID:      content.JobID,
			TaskID:     content.TaskID,
			URL:        content.Provenance.URL,
			FetchedAt:  content.Provenance.FetchedAt,
			Strategy:   string(content.Provenance.Strategy),
			Text:       content.Text,
			Confidence: content.Confidence,
		}).
		SetResult(&out).
		Post("/citations")
	if err != nil {
		return "", errors.Wrap(err, "record citation")
	}
	if resp.IsError() {
		return "", errors.Wrapf(errors.ErrUnavailable, "citation collaborator status %d", resp.StatusCode())
	}
	return out.CitationID, nil
}
