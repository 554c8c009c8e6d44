package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/tilecache/tilecache/internal/logging"
	"github.com/tilecache/tilecache/internal/metrics"
)

const preloadBufferSize = 1024 * 1024

// PreloadReport 汇总一次预加载的结果，仅用于日志与管理接口展示。
type PreloadReport struct {
	Requested   int           `json:"requested"`
	Parallelism int           `json:"parallelism"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// Preload 通过拦截后的客户端并发请求 urls，仅为填充缓存，响应体被丢弃。
// 缓存未激活或列表为空时直接返回。单个 URL 失败只记录 debug 日志，不影响其它 URL；
// parallelism <= 0 时使用 CPU 核数。返回前总会等待工作池结束。
func (c *Cache) Preload(ctx context.Context, urls []string, parallelism int) PreloadReport {
	if len(urls) == 0 || c.IsNotActive() {
		return PreloadReport{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	workers := parallelism
	if workers < 1 {
		workers = runtime.NumCPU()
	}

	started := time.Now()
	var succeeded, failed atomic.Int64

	func() {
		p := pool.New().WithMaxGoroutines(workers)
		defer p.Wait()

		for _, rawURL := range urls {
			p.Go(func() {
				if err := c.preloadOne(ctx, rawURL); err != nil {
					failed.Add(1)
					c.metrics.Preload(metrics.PreloadFailed)
					c.logger.WithError(err).WithFields(logrus.Fields{
						"action": "preload_url_failed",
						"url":    rawURL,
					}).Debug("预加载失败")
					return
				}
				succeeded.Add(1)
				c.metrics.Preload(metrics.PreloadOK)
			})
		}
	}()

	report := PreloadReport{
		Requested:   len(urls),
		Parallelism: workers,
		Succeeded:   int(succeeded.Load()),
		Failed:      int(failed.Load()),
		Duration:    time.Since(started),
	}

	fields := logging.PreloadFields(report.Requested, workers)
	fields["succeeded"] = report.Succeeded
	fields["failed"] = report.Failed
	fields["duration_ms"] = report.Duration.Milliseconds()
	c.logger.WithFields(fields).Info("预加载完成")
	return report
}

func (c *Cache) preloadOne(ctx context.Context, rawURL string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := drain(ctx, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// drain 读完响应体直到 EOF，使 tee 在关闭时能判定为完整响应。
func drain(ctx context.Context, src io.Reader) error {
	buf := make([]byte, preloadBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := src.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
