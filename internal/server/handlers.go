package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tilecache/tilecache/internal/cache"
	"github.com/tilecache/tilecache/internal/config"
	"github.com/tilecache/tilecache/internal/logging"
)

type handlers struct {
	logger *logrus.Logger
	cache  *cache.Cache
	client *http.Client
}

// fetch 通过拦截后的客户端加载 url 并把响应流式写回。命中与否在发起请求前判定，
// 并发写入同一条目时该标记只是近似值。
func (h *handlers) fetch(c fiber.Ctx) error {
	started := time.Now()
	rawURL := c.Query("url")
	if err := config.ValidateURL(rawURL); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_url")
	}

	hit := h.cache.Active() && h.cache.ShouldCache(rawURL) && h.cache.IsCached(rawURL)
	key := cache.KeyForURL(rawURL)

	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_url")
	}
	if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.logResult(c, rawURL, key, 0, hit, started, err)
		return writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		if cache.IsHopByHopHeader(name) || name == fiber.HeaderContentLength {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(name, value)
		}
	}
	c.Set("X-Tile-Cache-Hit", fmt.Sprintf("%t", hit))
	c.Status(resp.StatusCode)

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(c, rawURL, key, resp.StatusCode, hit, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("tile stream failed: %v", err))
	}
	return nil
}

func (h *handlers) logResult(c fiber.Ctx, rawURL, key string, status int, hit bool, started time.Time, err error) {
	fields := logging.RequestFields(rawURL, key, hit)
	fields["action"] = "fetch"
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func (h *handlers) status(c fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	return c.JSON(fiber.Map{
		"url":          rawURL,
		"key":          cache.KeyForURL(rawURL),
		"should_cache": h.cache.ShouldCache(rawURL),
		"cached":       h.cache.IsCached(rawURL),
	})
}

func (h *handlers) overview(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"directory":        h.cache.Directory(),
		"active":           h.cache.Active(),
		"cache_filters":    nonNil(h.cache.CacheFilters()),
		"no_cache_filters": nonNil(h.cache.NoCacheFilters()),
		"hook_installed":   h.cache.HookInstalled(),
		"hooks":            h.cache.Registry().Snapshot([]string{"http", "https"}),
	})
}

type activeRequest struct {
	Active *bool `json:"active"`
}

func (h *handlers) setActive(c fiber.Ctx) error {
	var body activeRequest
	if err := c.Bind().JSON(&body); err != nil || body.Active == nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}
	if err := h.cache.SetActive(*body.Active); err != nil {
		h.logger.WithError(err).WithField("action", "admin_set_active").Warn("切换缓存状态失败")
		switch {
		case errors.Is(err, cache.ErrNoDirectory):
			return writeError(c, fiber.StatusBadRequest, "no_directory")
		case errors.Is(err, cache.ErrHookInstall):
			return writeError(c, fiber.StatusInternalServerError, "hook_install_failed")
		default:
			return writeError(c, fiber.StatusInternalServerError, "activation_failed")
		}
	}
	return c.JSON(fiber.Map{"active": h.cache.Active()})
}

type filtersRequest struct {
	Cache   []string `json:"cache"`
	NoCache []string `json:"no_cache"`
}

func (h *handlers) setFilters(c fiber.Ctx) error {
	var body filtersRequest
	if err := c.Bind().JSON(&body); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}
	if len(body.Cache) > 0 && len(body.NoCache) > 0 {
		return writeError(c, fiber.StatusConflict, "conflicting_filters")
	}

	var err error
	switch {
	case len(body.Cache) > 0:
		err = h.cache.SetCacheFilters(body.Cache)
	case len(body.NoCache) > 0:
		err = h.cache.SetNoCacheFilters(body.NoCache)
	default:
		return writeError(c, fiber.StatusBadRequest, "filters_required")
	}
	if err != nil {
		h.logger.WithError(err).WithField("action", "admin_set_filters").Warn("设置过滤器失败")
		if errors.Is(err, cache.ErrConflictingFilters) {
			return writeError(c, fiber.StatusConflict, "conflicting_filters")
		}
		return writeError(c, fiber.StatusBadRequest, "invalid_pattern")
	}
	return h.overview(c)
}

func (h *handlers) clearFilters(c fiber.Ctx) error {
	h.cache.ClearAllCacheFilters()
	return h.overview(c)
}

func (h *handlers) evict(c fiber.Ctx) error {
	rawURL := c.Query("url")
	if rawURL == "" {
		return writeError(c, fiber.StatusBadRequest, "url_required")
	}
	if err := h.cache.Evict(rawURL); err != nil {
		h.logger.WithError(err).WithField("action", "admin_evict").Error("删除缓存条目失败")
		if errors.Is(err, cache.ErrNoDirectory) {
			return writeError(c, fiber.StatusBadRequest, "no_directory")
		}
		return writeError(c, fiber.StatusInternalServerError, "evict_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) clear(c fiber.Ctx) error {
	if err := h.cache.Clear(); err != nil {
		h.logger.WithError(err).WithField("action", "admin_clear").Error("清空缓存失败")
		return writeError(c, fiber.StatusInternalServerError, "clear_failed")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type preloadRequest struct {
	URLs        []string `json:"urls"`
	Parallelism int      `json:"parallelism"`
}

func (h *handlers) preload(c fiber.Ctx) error {
	var body preloadRequest
	if err := c.Bind().JSON(&body); err != nil {
		return writeError(c, fiber.StatusBadRequest, "invalid_body")
	}
	if h.cache.IsNotActive() {
		return writeError(c, fiber.StatusConflict, "cache_inactive")
	}
	report := h.cache.Preload(context.Background(), body.URLs, body.Parallelism)
	return c.JSON(report)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
