package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tilecache/tilecache/internal/cache"
)

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger *logrus.Logger
	Cache  *cache.Cache
	// Client must route through the cache's intercept registry, otherwise
	// /fetch bypasses the cache entirely.
	Client *http.Client
	// Gatherer backs /-/metrics; nil falls back to prometheus.DefaultGatherer.
	Gatherer   prometheus.Gatherer
	ListenPort int
}

const contextKeyRequestID = "_tilecache_request_id"

// Addr 返回 Listen 使用的监听地址。
func (o AppOptions) Addr() string {
	return fmt.Sprintf(":%d", o.ListenPort)
}

// Serve 在 opts.Addr() 上监听，ctx 结束时优雅关闭。
func Serve(ctx context.Context, app *fiber.App, opts AppOptions) error {
	go func() {
		<-ctx.Done()
		_ = app.Shutdown()
	}()

	opts.Logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   opts.ListenPort,
	}).Info("Fiber 服务启动")

	if err := app.Listen(opts.Addr()); err != nil {
		return fmt.Errorf("HTTP 服务启动失败: %w", err)
	}
	return nil
}

// NewApp builds the Fiber application with request IDs, panic recovery, the
// tile fetch endpoint, and the cache admin routes.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Client == nil {
		return nil, errors.New("upstream client is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	h := &handlers{
		logger: opts.Logger,
		cache:  opts.Cache,
		client: opts.Client,
	}
	app.Get("/fetch", h.fetch)

	admin := app.Group("/-/cache")
	admin.Get("/", h.overview)
	admin.Get("/status", h.status)
	admin.Put("/active", h.setActive)
	admin.Put("/filters", h.setFilters)
	admin.Delete("/filters", h.clearFilters)
	admin.Delete("/entry", h.evict)
	admin.Post("/clear", h.clear)
	admin.Post("/preload", h.preload)

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID 并回写到 X-Request-ID。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
