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

	"github.com/go-resty/resty/v2"
)

// httpTransport plain 与 proxy 策略共用的 HTTP 传输。
// 身份携带代理地址时走对应的代理客户端，按代理地址缓存复用连接池。
type httpTransport struct {
	base *resty.Client

	mu      sync.Mutex
	proxied map[string]*resty.Client
}

func newHTTPTransport() *httpTransport {
	return &httpTransport{
		base:    newFetchClient(""),
		proxied: make(map[string]*resty.Client),
	}
}

func newFetchClient(proxyURL string) *resty.Client {
	c := resty.New().
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5)).
		SetDoNotParseResponse(false)
	if proxyURL != "" {
		c.SetProxy(proxyURL)
	}
	return c
}

func (t *httpTransport) clientFor(proxyURL string) *resty.Client {
	if proxyURL == "" {
		return t.base
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.proxied[proxyURL]; ok {
		return c
	}
	c := newFetchClient(proxyURL)
	t.proxied[proxyURL] = c
	return c
}

// Do 执行一次 GET；非 2xx 状态不视为错误，交由上层按状态码分类
func (t *httpTransport) Do(ctx context.Context, rawURL string, ident Identity) Outcome {
	resp, err := t.clientFor(ident.ProxyURL).R().
		SetContext(ctx).
		SetHeader("User-Agent", ident.UserAgent).
		SetHeader("Accept-Language", ident.AcceptLanguage).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8").
		Get(rawURL)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{
		StatusCode:  resp.StatusCode(),
		Body:        resp.Body(),
		ContentType: resp.Header().Get("Content-Type"),
	}
}
