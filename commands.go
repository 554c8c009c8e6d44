package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tilecache/tilecache/internal/cache"
	"github.com/tilecache/tilecache/internal/config"
	"github.com/tilecache/tilecache/internal/intercept"
	"github.com/tilecache/tilecache/internal/logging"
	"github.com/tilecache/tilecache/internal/metrics"
	"github.com/tilecache/tilecache/internal/server"
	"github.com/tilecache/tilecache/internal/version"
)

// runtimeDeps 是各子命令共享的装配结果。
type runtimeDeps struct {
	cfg        *config.Config
	configPath string
	logger     *logrus.Logger
	cache      *cache.Cache
	server     *server.AppOptions
}

// bootstrap 遵循“配置 → 日志 → 拦截注册表 → 缓存”顺序装配依赖。activate 为 true 时
// 按配置激活缓存并注册拦截钩子。
func bootstrap(configPath string, activate bool) (*runtimeDeps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry := &intercept.Registry{}
	client := server.NewUpstreamClient(cfg, registry)
	c := cache.New(cache.Options{
		Logger:    logger,
		Registry:  registry,
		Client:    client,
		UserAgent: cfg.Global.UserAgent,
		Metrics:   metrics.New(promRegistry),
	})

	if cfg.Global.CreateDirectory {
		if err := os.MkdirAll(cfg.Global.CacheDirectory, 0o755); err != nil {
			return nil, fmt.Errorf("创建缓存目录失败: %w", err)
		}
	}
	if err := c.SetDirectory(cfg.Global.CacheDirectory); err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	switch {
	case len(cfg.Filters.Cache) > 0:
		err = c.SetCacheFilters(cfg.Filters.Cache)
	case len(cfg.Filters.NoCache) > 0:
		err = c.SetNoCacheFilters(cfg.Filters.NoCache)
	}
	if err != nil {
		return nil, fmt.Errorf("设置缓存过滤器失败: %w", err)
	}

	if activate && cfg.Global.Active {
		if err := c.SetActive(true); err != nil {
			return nil, fmt.Errorf("激活缓存失败: %w", err)
		}
	}

	return &runtimeDeps{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		cache:      c,
		server: &server.AppOptions{
			Logger:     logger,
			Cache:      c,
			Client:     client,
			Gatherer:   promRegistry,
			ListenPort: cfg.Global.ListenPort,
		},
	}, nil
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tile gateway with the cache hook installed",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := bootstrap(opts.configPath(), true)
			if err != nil {
				return err
			}

			fields := logging.BaseFields("startup", deps.configPath)
			fields["listen_port"] = deps.cfg.Global.ListenPort
			fields["cache_directory"] = deps.cache.Directory()
			fields["active"] = deps.cache.Active()
			fields["filters"] = deps.cfg.Filters.FilterMode()
			fields["version"] = version.Full()
			deps.logger.WithFields(fields).Info("配置加载完成")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if len(deps.cfg.Preload.URLs) > 0 {
				go deps.cache.Preload(ctx, deps.cfg.Preload.URLs, deps.cfg.Preload.Parallelism)
			}
			return startHTTPServer(ctx, deps)
		},
	}
}

func startHTTPServer(ctx context.Context, deps *runtimeDeps) error {
	app, err := server.NewApp(*deps.server)
	if err != nil {
		return err
	}

	return server.Serve(ctx, app, *deps.server)
}

func newPreloadCmd(opts *cliOptions) *cobra.Command {
	var parallelism int
	cmd := &cobra.Command{
		Use:   "preload [urls...]",
		Short: "Fetch URLs through the cache to populate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := bootstrap(opts.configPath(), false)
			if err != nil {
				return err
			}
			if err := deps.cache.SetActive(true); err != nil {
				return fmt.Errorf("激活缓存失败: %w", err)
			}

			urls := args
			if len(urls) == 0 {
				urls = deps.cfg.Preload.URLs
			}
			workers := parallelism
			if !cmd.Flags().Changed("parallelism") {
				workers = deps.cfg.Preload.Parallelism
			}

			report := deps.cache.Preload(cmd.Context(), urls, workers)
			fmt.Fprintf(stdOut, "requested=%d succeeded=%d failed=%d parallelism=%d duration=%s\n",
				report.Requested, report.Succeeded, report.Failed, report.Parallelism, report.Duration)
			return nil
		},
	}
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "并发请求数（<=0 时使用 CPU 核数）")
	return cmd
}

func newClearCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := bootstrap(opts.configPath(), false)
			if err != nil {
				return err
			}
			if err := deps.cache.Clear(); err != nil {
				return fmt.Errorf("清空缓存失败: %w", err)
			}
			fmt.Fprintf(stdOut, "cleared %s\n", deps.cache.Directory())
			return nil
		},
	}
}

func newStatusCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <url>",
		Short: "Show the cache state of a URL",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.ValidateURL(args[0]); err != nil {
				return usageError{err: fmt.Errorf("无效的 URL: %w", err)}
			}
			deps, err := bootstrap(opts.configPath(), false)
			if err != nil {
				return err
			}
			path, err := deps.cache.PathForURL(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(stdOut, "path: %s\nshould_cache: %t\ncached: %t\n",
				path, deps.cache.ShouldCache(args[0]), deps.cache.IsCached(args[0]))
			return nil
		},
	}
}

func newCheckConfigCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.configPath()
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			logger, err := logging.InitLogger(cfg.Global)
			if err != nil {
				return fmt.Errorf("初始化日志失败: %w", err)
			}

			fields := logging.BaseFields("check_config", path)
			fields["cache_directory"] = cfg.Global.CacheDirectory
			fields["filters"] = cfg.Filters.FilterMode()
			fields["preload_urls"] = len(cfg.Preload.URLs)
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}
