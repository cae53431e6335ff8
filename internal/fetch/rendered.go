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
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"research-platform/pkg/errors"
)

// renderedTransport 无头浏览器传输：执行 JS 后取渲染完成的 DOM。
// 浏览器实例惰性启动并在传输生命周期内复用，每次尝试开独立页面。
type renderedTransport struct {
	mu      sync.Mutex
	browser *rod.Browser
}

func newRenderedTransport() *renderedTransport {
	return &renderedTransport{}
}

func (t *renderedTransport) ensureBrowser() (*rod.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser != nil {
		return t.browser, nil
	}
	u, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, errors.Wrap(err, "launch headless browser")
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, errors.Wrap(err, "connect headless browser")
	}
	t.browser = b
	return b, nil
}

// Do 在新页面中导航并等待 load 事件，返回渲染后的 HTML。
// CDP 不透出主文档状态码，成功路径统一按 200 处理，封锁页靠正文特征识别。
func (t *renderedTransport) Do(ctx context.Context, rawURL string, ident Identity) Outcome {
	b, err := t.ensureBrowser()
	if err != nil {
		return Outcome{Err: err}
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return Outcome{Err: errors.Wrap(err, "open page")}
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx)

	if ident.UserAgent != "" {
		_ = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ident.UserAgent,
			AcceptLanguage: ident.AcceptLanguage,
		})
	}

	if err := page.Navigate(rawURL); err != nil {
		return Outcome{Err: errors.Wrap(err, "navigate")}
	}
	if err := page.WaitLoad(); err != nil {
		return Outcome{Err: errors.Wrap(err, "wait load")}
	}
	html, err := page.HTML()
	if err != nil {
		return Outcome{Err: errors.Wrap(err, "read dom")}
	}

	return Outcome{
		StatusCode:  200,
		Body:        []byte(html),
		ContentType: "text/html; charset=utf-8",
	}
}

// Close 关闭浏览器实例
func (t *renderedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	return err
}
