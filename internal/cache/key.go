package cache

import (
	"net/url"
	"regexp"
	"strings"
)

// tileHostPattern 匹配 OpenStreetMap 的轮询子域名（a/b/c.tile.openstreetmap.org）。
var tileHostPattern = regexp.MustCompile(`[a-z]\.tile\.openstreetmap\.org`)

const canonicalTileHost = "x.tile.openstreetmap.org"

// formEscaper 把 url.QueryEscape 的输出对齐到表单编码的既有文件名：'*' 保持原样，'~' 转义。
var formEscaper = strings.NewReplacer("%2A", "*", "~", "%7E")

// CanonicalURL 返回 URL 解析后再序列化的形式，与 http.Request.URL.String() 一致。
// 无法解析的输入原样返回。
func CanonicalURL(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return parsed.String()
}

// NormalizeURL 将结构等价的 URL 归一化，使轮询瓦片域名共享同一缓存条目。
func NormalizeURL(raw string) string {
	if raw == "" {
		return raw
	}
	return tileHostPattern.ReplaceAllString(CanonicalURL(raw), canonicalTileHost)
}

// KeyForURL 返回归一化并 percent-encode 后的缓存键，可直接作为文件名使用。
func KeyForURL(raw string) string {
	return formEscaper.Replace(url.QueryEscape(NormalizeURL(raw)))
}
