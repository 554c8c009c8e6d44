package cache

import (
	"net/http"
	"net/textproto"
)

// DataInfo 描述一次成功回源的响应元数据，随正文一起持久化为 <key>.dataInfo。
type DataInfo struct {
	ContentType     string      `json:"content_type"`
	ContentEncoding string      `json:"content_encoding"`
	Header          http.Header `json:"header"`
}

// NewDataInfo 从上游响应中提取需要持久化的字段，自动忽略 hop-by-hop 头。
func NewDataInfo(resp *http.Response) *DataInfo {
	info := &DataInfo{Header: http.Header{}}
	if resp == nil {
		return info
	}
	CopyHeaders(info.Header, resp.Header)
	info.ContentType = resp.Header.Get("Content-Type")
	info.ContentEncoding = resp.Header.Get("Content-Encoding")
	return info
}

// ResponseHeader 返回命中分支对外暴露的响应头副本。
func (i *DataInfo) ResponseHeader() http.Header {
	header := http.Header{}
	if i == nil {
		return header
	}
	CopyHeaders(header, i.Header)
	if i.ContentType != "" {
		header.Set("Content-Type", i.ContentType)
	}
	if i.ContentEncoding != "" {
		header.Set("Content-Encoding", i.ContentEncoding)
	}
	// 正文长度与时间类字段不做持久化，命中时统一视为未知。
	header.Del("Content-Length")
	return header
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	_, ok := hopByHopHeaders[canonical]
	return ok
}
