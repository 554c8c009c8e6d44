// Package metrics exposes Prometheus counters for the tile cache. Collectors
// register against a caller-supplied Registerer so tests and embedded hosts
// can keep isolated registries; a nil *Collector is a valid no-op.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result labels.
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultBypass = "bypass"

	CommitStored  = "stored"
	CommitSkipped = "skipped"
	CommitFailed  = "failed"

	PreloadOK     = "ok"
	PreloadFailed = "failed"

	OperationRead = "read"
	OperationSave = "save"
)

// Collector 聚合缓存层的全部指标。
type Collector struct {
	Requests       *prometheus.CounterVec
	Commits        *prometheus.CounterVec
	PreloadURLs    *prometheus.CounterVec
	DataInfoErrors *prometheus.CounterVec
}

// New 构建 Collector 并注册到 reg；reg 为 nil 时使用 prometheus.DefaultRegisterer。
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilecache_requests_total",
				Help: "Intercepted requests by cache result",
			},
			[]string{"result"}, // hit, miss, bypass
		),
		Commits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilecache_commits_total",
				Help: "Cache commits after a live fetch by result",
			},
			[]string{"result"}, // stored, skipped, failed
		),
		PreloadURLs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilecache_preload_urls_total",
				Help: "Preloaded URLs by result",
			},
			[]string{"result"},
		),
		DataInfoErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilecache_datainfo_errors_total",
				Help: "dataInfo sidecar read/save failures",
			},
			[]string{"operation"},
		),
	}

	reg.MustRegister(c.Requests, c.Commits, c.PreloadURLs, c.DataInfoErrors)
	return c
}

// Request 记录一次拦截请求的结果。
func (c *Collector) Request(result string) {
	if c == nil {
		return
	}
	c.Requests.WithLabelValues(result).Inc()
}

// Commit 记录回源完成后的提交结果。
func (c *Collector) Commit(result string) {
	if c == nil {
		return
	}
	c.Commits.WithLabelValues(result).Inc()
}

// Preload 记录单个预加载 URL 的结果。
func (c *Collector) Preload(result string) {
	if c == nil {
		return
	}
	c.PreloadURLs.WithLabelValues(result).Inc()
}

// DataInfoError 记录 dataInfo 读写失败。
func (c *Collector) DataInfoError(operation string) {
	if c == nil {
		return
	}
	c.DataInfoErrors.WithLabelValues(operation).Inc()
}
