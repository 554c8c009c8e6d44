package cache

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tilecache/tilecache/internal/intercept"
	"github.com/tilecache/tilecache/internal/metrics"
)

// DefaultUserAgent 是预加载请求使用的浏览器 UA，部分瓦片服务会拒绝空 UA。
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:66.0) Gecko/20100101 Firefox/66.0"

// interceptedSchemes 是激活时需要占用的拦截槽位。
var interceptedSchemes = []string{"http", "https"}

// Options 控制 Cache 的依赖注入，零值字段使用默认实现。
type Options struct {
	Logger    *logrus.Logger
	Registry  *intercept.Registry
	Client    *http.Client
	UserAgent string
	Metrics   *metrics.Collector
}

// Cache 是显式传递的缓存上下文：持有缓存目录、激活状态与过滤器，
// 并在首次激活时把自身注册为 http/https 的拦截器。
//
// 配置类调用（SetDirectory/SetActive/过滤器）预期在大量并发请求之前完成；
// 内部加锁只保证可见性，不承诺运行中重配置的语义。
type Cache struct {
	logger    *logrus.Logger
	registry  *intercept.Registry
	client    *http.Client
	userAgent string
	metrics   *metrics.Collector
	filters   FilterSet

	mu            sync.RWMutex
	store         Store
	active        bool
	hookInstalled bool
}

// New 构建未激活、未设置目录的 Cache。
func New(opts Options) *Cache {
	c := &Cache{
		logger:    opts.Logger,
		registry:  opts.Registry,
		client:    opts.Client,
		userAgent: opts.UserAgent,
		metrics:   opts.Metrics,
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.registry == nil {
		c.registry = intercept.DefaultRegistry
	}
	if c.client == nil {
		c.client = &http.Client{Transport: c.registry.Transport(http.DefaultTransport)}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	return c
}

// SetDirectory 设置缓存目录；目录不存在或不可写时返回 ErrInvalidDirectory。
func (c *Cache) SetDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidDirectory)
	}
	store, err := NewStore(path)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.store = store
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"action":    "cache_directory",
		"directory": store.Dir(),
	}).Info("缓存目录已设置")
	return nil
}

// Directory 返回当前缓存目录，未设置时为空串。
func (c *Cache) Directory() string {
	store := c.currentStore()
	if store == nil {
		return ""
	}
	return store.Dir()
}

// SetActive 切换激活状态。首次激活会注册拦截钩子，注册失败时保持未激活。
func (c *Cache) SetActive(active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !active {
		c.active = false
		return nil
	}
	if c.store == nil {
		return fmt.Errorf("cannot activate cache: %w", ErrNoDirectory)
	}
	if !c.hookInstalled {
		if err := c.installHook(); err != nil {
			c.logger.WithError(err).WithField("action", "hook_install").Error("拦截钩子注册失败")
			return err
		}
		c.hookInstalled = true
	}
	c.active = true
	return nil
}

// installHook 为所有拦截 scheme 注册工厂，任一失败都会回滚已注册的部分。
func (c *Cache) installHook() error {
	registered := make([]string, 0, len(interceptedSchemes))
	for _, scheme := range interceptedSchemes {
		if err := c.registry.Register(scheme, c.RoundTripper); err != nil {
			for _, done := range registered {
				c.registry.Unregister(done)
			}
			return fmt.Errorf("%w for %s: %w", ErrHookInstall, scheme, err)
		}
		registered = append(registered, scheme)
	}
	return nil
}

// IsNotActive 返回缓存是否处于未激活状态。
func (c *Cache) IsNotActive() bool {
	return !c.Active()
}

// Active 返回缓存是否激活。
func (c *Cache) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// HookInstalled 返回拦截钩子是否已经由本实例注册。
func (c *Cache) HookInstalled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hookInstalled
}

// Registry 返回本实例使用的拦截注册表。
func (c *Cache) Registry() *intercept.Registry {
	return c.registry
}

// SetCacheFilters 设置仅缓存匹配项的过滤器。
func (c *Cache) SetCacheFilters(patterns []string) error {
	return c.filters.SetInclude(patterns)
}

// SetNoCacheFilters 设置不缓存匹配项的过滤器。
func (c *Cache) SetNoCacheFilters(patterns []string) error {
	return c.filters.SetExclude(patterns)
}

// CacheFilters 返回 include 过滤器原文。
func (c *Cache) CacheFilters() []string {
	return c.filters.Include()
}

// NoCacheFilters 返回 exclude 过滤器原文。
func (c *Cache) NoCacheFilters() []string {
	return c.filters.Exclude()
}

// ClearAllCacheFilters 清空两组过滤器。
func (c *Cache) ClearAllCacheFilters() {
	c.filters.Clear()
}

// ShouldCache 判断 URL 是否满足过滤条件。过滤器匹配的是 CanonicalURL 形式，
// 与拦截请求时 req.URL.String() 看到的字符串一致。
func (c *Cache) ShouldCache(rawURL string) bool {
	return c.filters.ShouldCache(CanonicalURL(rawURL))
}

// PathForURL 返回 URL 对应的正文文件路径。
func (c *Cache) PathForURL(rawURL string) (string, error) {
	store := c.currentStore()
	if store == nil {
		return "", fmt.Errorf("cannot resolve filename for url: %w", ErrNoDirectory)
	}
	return store.DataPath(KeyForURL(rawURL)), nil
}

// IsCached 当正文非空可读且 dataInfo 可解析时返回 true。
func (c *Cache) IsCached(rawURL string) bool {
	store := c.currentStore()
	if store == nil {
		return false
	}
	_, _, err := store.Lookup(KeyForURL(rawURL))
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"action": "datainfo_read_failed",
			"url":    rawURL,
		}).Warn("读取缓存元数据失败")
	}
	return err == nil
}

// Clear 删除缓存目录下的所有条目，目录本身保留。调用方需保证目录只存放缓存文件。
func (c *Cache) Clear() error {
	store := c.currentStore()
	if store == nil {
		return nil
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear cache directory: %w", err)
	}
	c.logger.WithFields(logrus.Fields{
		"action":    "cache_clear",
		"directory": store.Dir(),
	}).Info("缓存已清空")
	return nil
}

// Evict 删除单个 URL 的正文与 dataInfo，条目不存在时视为成功。
func (c *Cache) Evict(rawURL string) error {
	store := c.currentStore()
	if store == nil {
		return fmt.Errorf("cannot evict url: %w", ErrNoDirectory)
	}
	key := KeyForURL(rawURL)
	if err := store.Remove(key); err != nil {
		return fmt.Errorf("evict %s: %w", key, err)
	}
	c.logger.WithFields(logrus.Fields{
		"action":    "cache_evict",
		"url":       rawURL,
		"cache_key": key,
	}).Info("缓存条目已删除")
	return nil
}

func (c *Cache) currentStore() Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// RoundTripper 是注册到 intercept.Registry 的 Factory，包装真实 transport。
func (c *Cache) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &interceptor{cache: c, next: next}
}

type interceptor struct {
	cache *Cache
	next  http.RoundTripper
}

// RoundTrip 对可缓存的 GET 请求走 Connection，其余请求原样透传。
func (i *interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	c := i.cache
	if !isCacheableMethod(req.Method) || c.IsNotActive() || !c.ShouldCache(req.URL.String()) {
		c.metrics.Request(metrics.ResultBypass)
		return i.next.RoundTrip(req)
	}

	conn, err := c.OpenConnection(req, i.next)
	if err != nil {
		return nil, err
	}
	return conn.Response()
}

func isCacheableMethod(method string) bool {
	return method == "" || method == http.MethodGet
}
