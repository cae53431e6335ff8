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

// Package llm 本地推理协作方（Ollama）客户端：置信度评估与策略建议。
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"research-platform/pkg/config"
	"research-platform/pkg/errors"
	"research-platform/pkg/log"
	"research-platform/pkg/utils"
)

// 正文截断上限，避免超长页面撑爆 prompt
const maxPromptChars = 4000

// OllamaClient 走 Ollama /api/generate 的推理客户端。
// 评估与建议用不同模型，温度压低保证输出稳定。
type OllamaClient struct {
	http        *resty.Client
	assessModel string
	hintModel   string
	logger      *log.Logger
}

// NewOllamaClient 按配置创建客户端
func NewOllamaClient(cfg config.InferenceConfig, logger *log.Logger) *OllamaClient {
	return &OllamaClient{
		http: resty.New().
			SetBaseURL(utils.CoalesceString(cfg.BaseURL, "http://localhost:11434")).
			SetTimeout(config.ParseDuration(cfg.Timeout, 60*time.Second)),
		assessModel: utils.CoalesceString(cfg.AssessModel, "llama3.2"),
		hintModel:   utils.CoalesceString(cfg.HintModel, "codellama"),
		logger:      logger,
	}
}

type generateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *OllamaClient) generate(ctx context.Context, model, prompt string) (string, error) {
	var out generateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:   model,
			Prompt:  prompt,
			Stream:  false,
			Options: map[string]interface{}{"temperature": 0.2},
		}).
		SetResult(&out).
		Post("/api/generate")
	if err != nil {
		return "", errors.Wrap(err, "call ollama")
	}
	if resp.IsError() {
		return "", errors.Wrapf(errors.ErrUnavailable, "ollama status %d", resp.StatusCode())
	}
	return out.Response, nil
}

// AssessConfidence 请求模型评估正文可信度。crossRefs 为同任务
// 其他已接受内容的片段，用于矛盾检测。实现 validate.Assessor。
func (c *OllamaClient) AssessConfidence(ctx context.Context, text string, crossRefs []string) (float64, bool, error) {
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	var sb strings.Builder
	sb.WriteString("You are assessing web content for a research citation pipeline.\n")
	sb.WriteString("Rate how trustworthy and substantive the CONTENT below is, from 0.0 to 1.0.\n")
	if len(crossRefs) > 0 {
		sb.WriteString("Compare it against these excerpts already accepted for the same research question; ")
		sb.WriteString("set \"contradiction\" true if the content factually contradicts any of them.\n")
		for i, ref := range crossRefs {
			fmt.Fprintf(&sb, "EXCERPT %d: %s\n", i+1, ref)
		}
	}
	sb.WriteString("Answer with JSON only: {\"confidence\": <number>, \"contradiction\": <bool>}\n\nCONTENT:\n")
	sb.WriteString(text)

	raw, err := c.generate(ctx, c.assessModel, sb.String())
	if err != nil {
		return 0, false, err
	}
	score, contradiction, ok := parseAssessment(raw)
	if !ok {
		return 0, false, errors.Wrapf(errors.ErrInvalidArg, "unparsable assessment: %.80s", raw)
	}
	return score, contradiction, nil
}

var floatRe = regexp.MustCompile(`[01](?:\.\d+)?`)

// parseAssessment 容错解析模型输出：优先整体 JSON，退化到截取
// 第一个 JSON 对象，再退化到抓取第一个 0-1 浮点数。
func parseAssessment(raw string) (float64, bool, bool) {
	var parsed struct {
		Confidence    float64 `json:"confidence"`
		Contradiction bool    `json:"contradiction"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return clamp01(parsed.Confidence), parsed.Contradiction, true
	}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err == nil {
				return clamp01(parsed.Confidence), parsed.Contradiction, true
			}
		}
	}
	if m := floatRe.FindString(raw); m != "" {
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return clamp01(f), strings.Contains(strings.ToLower(raw), "contradict"), true
		}
	}
	return 0, false, false
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Suggest 请求模型给出下一个抓取策略偏好。纯建议：失败时静默放弃，
// 升级控制器的确定性策略始终有最终决定权。实现 escalate.Hinter。
func (c *OllamaClient) Suggest(ctx context.Context, domain string, pastFailures []string) (string, bool) {
	prompt := fmt.Sprintf(
		"A web fetch pipeline is failing against domain %q. Past failure kinds in order: %s.\n"+
			"Which fetch strategy should it try next? Answer with exactly one word from: plain, rendered, proxy.",
		domain, strings.Join(pastFailures, ", "))

	raw, err := c.generate(ctx, c.hintModel, prompt)
	if err != nil {
		c.logger.Warn("strategy hint unavailable", "domain", domain, "err", err)
		return "", false
	}
	lower := strings.ToLower(raw)
	for _, name := range []string{"rendered", "proxy", "plain"} {
		if strings.Contains(lower, name) {
			return name, true
		}
	}
	return "", false
}
