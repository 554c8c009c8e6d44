package intercept

import (
	"errors"
	"net/http"
	"strings"
	"sync"
)

// Factory 包装真实 RoundTripper，返回带拦截逻辑的 RoundTripper。
type Factory func(next http.RoundTripper) http.RoundTripper

// ErrDuplicateHook indicates a scheme already has an interceptor registered.
var ErrDuplicateHook = errors.New("interceptor already registered")

// Registry 保存 scheme → Factory 的映射，零值可直接使用。
type Registry struct {
	factories sync.Map
}

// DefaultRegistry 是未显式指定 Registry 时共用的进程级拦截槽位。
var DefaultRegistry = &Registry{}

// Register stores the factory for the given scheme.
func (r *Registry) Register(scheme string, factory Factory) error {
	key := normalizeScheme(scheme)
	if key == "" {
		return errors.New("scheme required")
	}
	if factory == nil {
		return errors.New("factory required")
	}
	if _, loaded := r.factories.LoadOrStore(key, factory); loaded {
		return ErrDuplicateHook
	}
	return nil
}

// Unregister 释放 scheme 槽位，主要用于注册回滚与测试。
func (r *Registry) Unregister(scheme string) {
	r.factories.Delete(normalizeScheme(scheme))
}

// Fetch retrieves the factory associated with a scheme.
func (r *Registry) Fetch(scheme string) (Factory, bool) {
	key := normalizeScheme(scheme)
	if key == "" {
		return nil, false
	}
	if value, ok := r.factories.Load(key); ok {
		if factory, ok := value.(Factory); ok {
			return factory, true
		}
	}
	return nil, false
}

// Status returns registration status for a scheme.
func (r *Registry) Status(scheme string) string {
	if _, ok := r.Fetch(scheme); ok {
		return "registered"
	}
	return "missing"
}

// Snapshot returns status for a list of schemes.
func (r *Registry) Snapshot(schemes []string) map[string]string {
	out := make(map[string]string, len(schemes))
	for _, scheme := range schemes {
		if normalized := normalizeScheme(scheme); normalized != "" {
			out[normalized] = r.Status(normalized)
		}
	}
	return out
}

// Transport 返回按请求 scheme 分派的 RoundTripper；未注册的 scheme 直接走 base。
func (r *Registry) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &dispatchTransport{registry: r, base: base}
}

type dispatchTransport struct {
	registry *Registry
	base     http.RoundTripper
}

func (t *dispatchTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL != nil {
		if factory, ok := t.registry.Fetch(req.URL.Scheme); ok {
			return factory(t.base).RoundTrip(req)
		}
	}
	return t.base.RoundTrip(req)
}

func normalizeScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}
