// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
	"strings"
)

// Store Secret 存储接口
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error
}

// Config Secret Store 配置
type Config struct {
	Provider string            `yaml:"provider"` // vault | env | memory
	Config   map[string]string `yaml:"config"`   // Provider-specific config
}

// NewStore 创建 Secret Store
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Config["address"],
			Token:      config.Config["token"],
			PathPrefix: config.Config["path_prefix"],
		})
	case "env":
		return NewEnvStore(), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return NewEnvStore(), nil
	}
}

// Resolve 解析配置值：以 secret:// 开头时经 Store 取值，否则原样返回。
// store 为 nil 时 secret:// 引用原样返回，由调用方自行处理连接失败。
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if !strings.HasPrefix(value, "secret://") {
		return value, nil
	}
	if store == nil {
		return value, nil
	}
	return store.Get(ctx, strings.TrimPrefix(value, "secret://"))
}
