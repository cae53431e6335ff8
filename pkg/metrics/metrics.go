package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		FetchAttemptDuration, FetchAttemptTotal,
		JobTotal, TaskTotal, EscalationTotal,
		RateLimitWaitSeconds, ValidationScore,
		DeliveryTotal, WorkerBusy,
	)
}

// FetchAttemptDuration 单次抓取尝试耗时（秒）
var FetchAttemptDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "research_fetch_attempt_duration_seconds",
		Help:    "单次抓取尝试耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"strategy"},
)

// FetchAttemptTotal 抓取尝试总数（按策略与结果分类）
var FetchAttemptTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_fetch_attempt_total",
		Help: "抓取尝试总数（按策略与失败类别）",
	},
	[]string{"strategy", "outcome"}, // success | blocked | rate_limited | timeout | parse_error | transient_network
)

// JobTotal FetchJob 终态总数
var JobTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_job_total",
		Help: "FetchJob 终态总数",
	},
	[]string{"state"}, // validated | rejected | abandoned
)

// TaskTotal 研究任务终态总数
var TaskTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_task_total",
		Help: "研究任务终态总数",
	},
	[]string{"status"}, // completed | failed | cancelled
)

// EscalationTotal 策略升级次数
var EscalationTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_escalation_total",
		Help: "策略升级次数（按目标策略）",
	},
	[]string{"to_strategy"},
)

// RateLimitWaitSeconds 域名限流等待时长分布
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "research_rate_limit_wait_seconds",
		Help:    "域名限流等待时长（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"domain"},
)

// ValidationScore 校验置信度分布
var ValidationScore = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "research_validation_score",
		Help:    "内容校验置信度分布",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	},
)

// DeliveryTotal 引文投递结果总数
var DeliveryTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_delivery_total",
		Help: "引文投递结果总数",
	},
	[]string{"result"}, // delivered | duplicate | failed
)

// WorkerBusy 当前正在执行的 FetchJob 数
var WorkerBusy = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "research_worker_busy",
		Help: "当前正在执行的 FetchJob 数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
