// Package metrics 暴露 blob store 路由的 Prometheus 指标。
//
// Recorder 的所有方法都接受 nil 接收者，未启用指标时调用方直接传 nil 即可，零开销。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tilehub"

// Result 标签取值。
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Recorder 记录每个 blob store 的操作次数、耗时与销毁失败次数。
type Recorder struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	destroyFailures   *prometheus.CounterVec
}

// NewRegistry 创建独立的指标注册表，并附带 Go 运行时与进程指标。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewRecorder 在 reg 上注册指标。reg 为 nil 时返回 nil。
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Recorder{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blobstore",
				Name:      "operations_total",
				Help:      "Total number of blob store operations by store, operation and result",
			},
			[]string{"store", "operation", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "blobstore",
				Name:      "operation_duration_seconds",
				Help:      "Duration of blob store operations in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"store", "operation"},
		),
		destroyFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "blobstore",
				Name:      "destroy_failures_total",
				Help:      "Number of blob stores that failed to release resources on shutdown",
			},
			[]string{"store"},
		),
	}
}

// ObserveOperation 记录一次操作的结果与耗时。
func (r *Recorder) ObserveOperation(store, operation string, duration time.Duration, err error) {
	if r == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	r.operationsTotal.WithLabelValues(store, operation, result).Inc()
	r.operationDuration.WithLabelValues(store, operation).Observe(duration.Seconds())
}

// DestroyFailed 记录一次销毁失败。
func (r *Recorder) DestroyFailed(store string) {
	if r == nil {
		return
	}
	r.destroyFailures.WithLabelValues(store).Inc()
}
