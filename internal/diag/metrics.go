package diag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "statsrunner"

// Registry 进程级指标注册表；运行结束时可通过 WriteMetrics 导出为文本文件。
var Registry = prometheus.NewRegistry()

var (
	factory = promauto.With(Registry)

	opTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "op_total",
		Help:      "Operations by component, stage and result",
	}, []string{"comp", "stage", "result"})

	errorTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "error_total",
		Help:      "Errors by component and classified code",
	}, []string{"comp", "code"})

	opDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "op_duration_ms",
		Help:      "Stage duration in milliseconds",
		Buckets:   []float64{1, 5, 25, 100, 500, 2500, 10000, 60000},
	}, []string{"comp", "stage"})

	statFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "stat_failures_total",
		Help:      "Stat computations omitted because they failed",
	}, []string{"stat"})

	filesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "files_total",
		Help:      "Processed files by outcome (ok, skipped, toolarge, emptyfile, invalidxml, nonstandardroots, failed)",
	}, []string{"outcome"})
)

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	opTotal.WithLabelValues(comp, stage, result).Inc()
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	errorTotal.WithLabelValues(comp, code).Inc()
}

// ObserveDuration 记录阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	opDuration.WithLabelValues(comp, stage).Observe(float64(durMS))
}

// IncStatFailure 单个统计项失败（被省略）。
func IncStatFailure(stat string) {
	statFailures.WithLabelValues(stat).Inc()
}

// IncFile 按结果累加文件计数。
func IncFile(outcome string) {
	filesTotal.WithLabelValues(outcome).Inc()
}

// WriteMetrics 以 Prometheus 文本格式写出全部指标（原子替换）。
func WriteMetrics(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
