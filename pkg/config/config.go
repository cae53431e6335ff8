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

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Log        LogConfig        `mapstructure:"log"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Validation ValidationConfig `mapstructure:"validation"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Inference  InferenceConfig  `mapstructure:"inference"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port int    `mapstructure:"port"`
	Host string `mapstructure:"host"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// SchedulerConfig 调度器配置：并发上限与任务级超时
type SchedulerConfig struct {
	// Enabled 为 false 时 API 不启动进程内 Scheduler，由独立 Worker 进程拉取执行（分布式模式）；未配置时默认 true
	Enabled        *bool  `mapstructure:"enabled"`
	MaxConcurrency int    `mapstructure:"max_concurrency"` // 最大并发执行数，<=0 使用默认 4
	TaskTimeout    string `mapstructure:"task_timeout"`    // 任务级 wall-clock 上限，如 "5m"，超时后剩余 job Abandoned
	IdleInterval   string `mapstructure:"idle_interval"`   // 无可认领 job 时的轮询间隔，空则默认 200ms
}

// FetchConfig 抓取执行器配置：单次尝试超时与反检测参数
type FetchConfig struct {
	AttemptTimeout  string   `mapstructure:"attempt_timeout"`  // 单次尝试硬超时，空则默认 15s
	ExtendedTimeout string   `mapstructure:"extended_timeout"` // Timeout 失败后一次重试用的放宽超时，空则默认 45s
	JitterMin       string   `mapstructure:"jitter_min"`       // 模拟人工间隔抖动下界，空则默认 50ms
	JitterMax       string   `mapstructure:"jitter_max"`       // 抖动上界，空则默认 800ms
	UserAgents      []string `mapstructure:"user_agents"`      // 随机轮换的 UA 池；空则使用内置池
	Proxies         []string `mapstructure:"proxies"`          // 代理池，proxy 策略轮换网络身份用
}

// RateLimitConfig 按域名限流配置（token bucket）
type RateLimitConfig struct {
	Default DomainClassConfig            `mapstructure:"default"`
	Domains map[string]DomainClassConfig `mapstructure:"domains"` // 域名级覆盖
}

// DomainClassConfig 单个域名类别的 bucket 参数
type DomainClassConfig struct {
	Capacity        int     `mapstructure:"capacity"`          // 桶容量，<=0 使用默认 4
	RefillPerSecond float64 `mapstructure:"refill_per_second"` // 每秒补充 token 数，<=0 使用默认 1
}

// EscalationConfig 重试 / 升级策略配置
type EscalationConfig struct {
	BackoffBase           string `mapstructure:"backoff_base"`             // 指数退避基数，空则默认 500ms
	BackoffCap            string `mapstructure:"backoff_cap"`              // 退避上限，空则默认 30s
	MaxRetriesPerStrategy int    `mapstructure:"max_retries_per_strategy"` // 同策略最大重试次数，<=0 使用默认 3
}

// ValidationConfig 内容校验配置
type ValidationConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"` // 接受阈值，<=0 使用默认 0.7
	MaxCrossRefs        int     `mapstructure:"max_cross_refs"`       // 交叉引用片段条数上限，<=0 使用默认 3
}

// DeliveryConfig 引文协作方投递配置
type DeliveryConfig struct {
	Endpoint string `mapstructure:"endpoint"` // citation collaborator 地址
	APIKey   string `mapstructure:"api_key"`  // 可为 ${ENV} 或 secret:// 引用
	RetryMax int    `mapstructure:"retry_max"`
	Backoff  string `mapstructure:"backoff"` // 重试间隔，空则默认 1s
}

// InferenceConfig 本地推理协作方（Ollama）配置
type InferenceConfig struct {
	BaseURL     string `mapstructure:"base_url"`     // 空则默认 http://localhost:11434
	AssessModel string `mapstructure:"assess_model"` // 置信度评估模型，空则默认 llama3.2
	HintModel   string `mapstructure:"hint_model"`   // 策略建议模型，空则默认 codellama
	Timeout     string `mapstructure:"timeout"`      // 单次调用超时，空则默认 60s
}

// StorageConfig 存储后端配置（task / job / delivery record）
type StorageConfig struct {
	TaskStore      StoreBackendConfig `mapstructure:"task_store"`
	JobStore       StoreBackendConfig `mapstructure:"job_store"`
	DeliveryRecord StoreBackendConfig `mapstructure:"delivery_record"`
}

// StoreBackendConfig 单个存储的后端选择
type StoreBackendConfig struct {
	Type     string `mapstructure:"type"`     // memory | postgres | redis（redis 仅 delivery_record）
	DSN      string `mapstructure:"dsn"`      // Postgres 连接串，type=postgres 时必填
	Addr     string `mapstructure:"addr"`     // Redis 地址，type=redis 时必填
	Password string `mapstructure:"password"` // Redis 密码，可为 ${ENV} 或 secret:// 引用
	Lease    string `mapstructure:"lease"`    // 作业认领租约（仅 job_store），空则默认 2m
}

// SecretsConfig Secret Store 配置
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // vault | env | memory
	Config   map[string]string `mapstructure:"config"`
}

// MonitoringConfig 监控 / 链路追踪配置
type MonitoringConfig struct {
	Tracing TracingConfig `mapstructure:"tracing"`
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 从指定路径加载配置
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	if err := replaceEnvVars(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// replaceEnvVars 替换配置中的 ${ENV} 引用（凭证类字段）
func replaceEnvVars(config *Config) error {
	config.Delivery.APIKey = expandEnv(config.Delivery.APIKey)
	config.Storage.TaskStore.DSN = expandEnv(config.Storage.TaskStore.DSN)
	config.Storage.JobStore.DSN = expandEnv(config.Storage.JobStore.DSN)
	config.Storage.DeliveryRecord.DSN = expandEnv(config.Storage.DeliveryRecord.DSN)
	config.Storage.DeliveryRecord.Password = expandEnv(config.Storage.DeliveryRecord.Password)
	return nil
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		if val := os.Getenv(envVar); val != "" {
			return val
		}
	}
	return v
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

// LoadWorkerConfig 加载 Worker 配置（configs/worker.yaml）
func LoadWorkerConfig() (*Config, error) {
	return LoadConfig("configs/worker.yaml")
}

// ParseDuration 解析时长字符串，非法或为空时返回 fallback
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
