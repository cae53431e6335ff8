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

// Package validate 内容校验：正文归一化、置信度评估与已校验内容存储。
package validate

import (
	"bytes"
	"errors"
	"strings"

	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"golang.org/x/net/html"

	pkgerrors "research-platform/pkg/errors"
)

// ErrUnparsable 载荷存在但无法提取正文（结构解析失败或提取结果为空）
var ErrUnparsable = errors.New("payload unparsable")

// 不贡献正文的 HTML 元素
var boilerplateTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"form":     true,
	"iframe":   true,
	"svg":      true,
}

// Normalizer 把原始载荷归一化为纯文本正文
type Normalizer struct{}

// NewNormalizer 创建归一化器
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize 按内容类型提取正文。HTML 去样板后取文本，PDF 逐页抽取，
// 其余按纯文本处理。提取结果为空时返回 ErrUnparsable。
func (n *Normalizer) Normalize(body []byte, contentType string) (string, error) {
	ct := strings.ToLower(contentType)
	var text string
	var err error
	switch {
	case strings.Contains(ct, "pdf"):
		text, err = extractPDF(body)
	case strings.Contains(ct, "html") || looksLikeHTML(body):
		text, err = extractHTML(body)
	default:
		text = string(body)
	}
	if err != nil {
		return "", pkgerrors.Wrap(ErrUnparsable, err.Error())
	}
	text = collapseWhitespace(text)
	if text == "" {
		return "", ErrUnparsable
	}
	return text, nil
}

func looksLikeHTML(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 256 {
		head = head[:256]
	}
	return bytes.Contains(head, []byte("<html")) || bytes.Contains(head, []byte("<!doctype html"))
}

func extractHTML(body []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && boilerplateTags[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String(), nil
}

func extractPDF(body []byte) (string, error) {
	reader, err := model.NewPdfReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	pages, err := reader.GetNumPages()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := 1; i <= pages; i++ {
		page, err := reader.GetPage(i)
		if err != nil {
			return "", err
		}
		ex, err := extractor.New(page)
		if err != nil {
			return "", err
		}
		text, err := ex.ExtractText()
		if err != nil {
			return "", err
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
