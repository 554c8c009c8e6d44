package cache

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tilecache/tilecache/internal/logging"
	"github.com/tilecache/tilecache/internal/metrics"
)

// Connection 是真实 HTTP 往返的装饰器：构造时确定 fromCache，之后所有操作
// 要么读取磁盘条目，要么透传给真实 transport 并把响应体 tee 到缓存文件。
type Connection struct {
	cache *Cache
	store Store
	req   *http.Request
	next  http.RoundTripper

	key       string
	fromCache bool
	info      *DataInfo

	resp *http.Response
	body io.ReadCloser
}

// OpenConnection 计算缓存键并读取 dataInfo，据此固定本次请求的命中状态。
func (c *Cache) OpenConnection(req *http.Request, next http.RoundTripper) (*Connection, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("request with url required")
	}
	store := c.currentStore()
	if store == nil {
		return nil, fmt.Errorf("cannot resolve filename for url: %w", ErrNoDirectory)
	}
	if next == nil {
		next = http.DefaultTransport
	}

	conn := &Connection{
		cache: c,
		store: store,
		req:   req,
		next:  next,
		key:   KeyForURL(req.URL.String()),
	}

	_, info, err := store.Lookup(conn.key)
	switch {
	case err == nil:
		conn.fromCache = true
		conn.info = info
	case errors.Is(err, ErrNotFound):
	default:
		c.metrics.DataInfoError(metrics.OperationRead)
		conn.logger().WithError(err).WithField("action", "datainfo_read_failed").Warn("读取缓存元数据失败，按未命中处理")
	}

	if conn.fromCache {
		c.metrics.Request(metrics.ResultHit)
	} else {
		c.metrics.Request(metrics.ResultMiss)
	}
	conn.logger().WithField("action", "cache_lookup").Trace("缓存查找完成")
	return conn, nil
}

func (conn *Connection) logger() *logrus.Entry {
	return conn.cache.logger.WithFields(logging.RequestFields(conn.req.URL.String(), conn.key, conn.fromCache))
}

// FromCache 返回本次请求是否由磁盘缓存提供。
func (conn *Connection) FromCache() bool {
	return conn.fromCache
}

// Key 返回缓存键。
func (conn *Connection) Key() string {
	return conn.key
}

// URL 返回请求 URL。
func (conn *Connection) URL() *url.URL {
	return conn.req.URL
}

// SetRequestHeader 设置请求头，命中时同样生效但不会发出。
func (conn *Connection) SetRequestHeader(key, value string) {
	conn.req.Header.Set(key, value)
}

// AddRequestHeader 追加请求头。
func (conn *Connection) AddRequestHeader(key, value string) {
	conn.req.Header.Add(key, value)
}

// RequestHeader 返回请求头的首个值。
func (conn *Connection) RequestHeader(key string) string {
	return conn.req.Header.Get(key)
}

// Connect 在未命中时发起真实请求；命中时为空操作。重复调用只会请求一次。
func (conn *Connection) Connect() error {
	if conn.fromCache || conn.resp != nil {
		return nil
	}
	conn.logger().WithField("action", "cache_connect").Trace("回源请求")
	resp, err := conn.next.RoundTrip(conn.req)
	if err != nil {
		return err
	}
	conn.resp = resp
	return nil
}

// Disconnect 在未命中时释放响应体；命中时为空操作。
func (conn *Connection) Disconnect() {
	if conn.fromCache {
		return
	}
	if conn.body != nil {
		conn.body.Close()
		return
	}
	if conn.resp != nil && conn.resp.Body != nil {
		conn.resp.Body.Close()
	}
}

// StatusCode 命中时固定返回 200。
func (conn *Connection) StatusCode() (int, error) {
	if conn.fromCache {
		return http.StatusOK, nil
	}
	if err := conn.Connect(); err != nil {
		return 0, err
	}
	return conn.resp.StatusCode, nil
}

// Status 命中时固定返回 "200 OK"。
func (conn *Connection) Status() (string, error) {
	if conn.fromCache {
		return cachedStatus, nil
	}
	if err := conn.Connect(); err != nil {
		return "", err
	}
	return conn.resp.Status, nil
}

// ContentLength 命中时返回 -1，长度不做持久化。
func (conn *Connection) ContentLength() int64 {
	if conn.fromCache || conn.Connect() != nil {
		return -1
	}
	return conn.resp.ContentLength
}

// ContentType 命中时取自 dataInfo。
func (conn *Connection) ContentType() string {
	if conn.fromCache {
		return conn.info.ContentType
	}
	return conn.liveHeader().Get("Content-Type")
}

// ContentEncoding 命中时取自 dataInfo。
func (conn *Connection) ContentEncoding() string {
	if conn.fromCache {
		return conn.info.ContentEncoding
	}
	return conn.liveHeader().Get("Content-Encoding")
}

// Header 返回响应头；命中时为 dataInfo 的副本。
func (conn *Connection) Header() http.Header {
	if conn.fromCache {
		return conn.info.ResponseHeader()
	}
	return conn.liveHeader()
}

// LastModified 命中时返回零值。
func (conn *Connection) LastModified() time.Time {
	return conn.headerTime("Last-Modified")
}

// Date 命中时返回零值。
func (conn *Connection) Date() time.Time {
	return conn.headerTime("Date")
}

// Expires 命中时返回零值。
func (conn *Connection) Expires() time.Time {
	return conn.headerTime("Expires")
}

func (conn *Connection) headerTime(name string) time.Time {
	if conn.fromCache {
		return time.Time{}
	}
	raw := conn.liveHeader().Get(name)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

func (conn *Connection) liveHeader() http.Header {
	if err := conn.Connect(); err != nil || conn.resp.Header == nil {
		return http.Header{}
	}
	return conn.resp.Header
}

// Body 返回响应体：命中时直接读取正文文件；未命中时把上游流 tee 到临时文件，
// 关闭时视状态码决定是否提交。临时文件创建失败会作为请求失败返回。
func (conn *Connection) Body() (io.ReadCloser, error) {
	if conn.body != nil {
		return conn.body, nil
	}

	if conn.fromCache {
		result, err := conn.store.Open(conn.key)
		if err != nil {
			return nil, fmt.Errorf("open cache file: %w", err)
		}
		conn.body = result.Reader
		return conn.body, nil
	}

	if err := conn.Connect(); err != nil {
		return nil, err
	}
	temp, err := conn.store.CreateTemp(conn.key)
	if err != nil {
		conn.resp.Body.Close()
		return nil, fmt.Errorf("create cache file: %w", err)
	}
	tempPath := temp.Name()

	tee := NewTeeReadCloser(conn.resp.Body, temp)
	tee.OnClose(func(result TeeResult) {
		conn.finish(tempPath, result)
	})
	conn.body = tee
	return conn.body, nil
}

// finish 是 tee 关闭后的提交步骤：仅完整读取的 200 响应会落盘。
func (conn *Connection) finish(tempPath string, result TeeResult) {
	log := conn.logger().WithField("bytes", result.Bytes)
	status := conn.resp.StatusCode

	switch {
	case status != http.StatusOK:
		conn.store.Discard(tempPath)
		conn.cache.metrics.Commit(metrics.CommitSkipped)
		log.WithFields(logrus.Fields{
			"action": "cache_skip_status",
			"status": status,
		}).Warn("响应码非 200，不写入缓存")
	case result.Err != nil || !result.EOF:
		conn.store.Discard(tempPath)
		conn.cache.metrics.Commit(metrics.CommitSkipped)
		log.WithError(result.Err).WithField("action", "cache_skip_incomplete").Debug("响应体未完整读取，不写入缓存")
	default:
		if _, err := conn.store.Commit(conn.key, tempPath, NewDataInfo(conn.resp)); err != nil {
			conn.cache.metrics.Commit(metrics.CommitFailed)
			conn.cache.metrics.DataInfoError(metrics.OperationSave)
			log.WithError(err).WithField("action", "datainfo_save_failed").Warn("缓存条目提交失败")
			return
		}
		conn.cache.metrics.Commit(metrics.CommitStored)
		log.WithField("action", "cache_commit").Debug("缓存条目已写入")
	}
}

const cachedStatus = "200 OK"

// Response 组装交给 http.Client 的响应。命中时合成 200 响应，
// 未命中时复用上游响应并替换 Body。
func (conn *Connection) Response() (*http.Response, error) {
	if conn.fromCache {
		if conn.req.Body != nil {
			conn.req.Body.Close()
		}
		body, err := conn.Body()
		if err != nil {
			return nil, err
		}
		return &http.Response{
			Status:        cachedStatus,
			StatusCode:    http.StatusOK,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        conn.info.ResponseHeader(),
			Body:          body,
			ContentLength: -1,
			Request:       conn.req,
		}, nil
	}

	if err := conn.Connect(); err != nil {
		return nil, err
	}
	body, err := conn.Body()
	if err != nil {
		return nil, err
	}
	resp := *conn.resp
	resp.Body = body
	return &resp, nil
}
