package server

import (
	"net"
	"net/http"
	"time"

	"github.com/tilecache/tilecache/internal/config"
	"github.com/tilecache/tilecache/internal/intercept"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   32,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client：底层 transport 经 registry 分派，
// 已注册拦截器的 scheme（http/https）会先经过瓦片缓存。
func NewUpstreamClient(cfg *config.Config, registry *intercept.Registry) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	if registry == nil {
		registry = intercept.DefaultRegistry
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: registry.Transport(defaultTransport.Clone()),
	}
}
