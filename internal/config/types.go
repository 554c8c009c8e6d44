package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：日志、缓存目录、激活状态与回源超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	CacheDirectory  string   `mapstructure:"CacheDirectory"`
	CreateDirectory bool     `mapstructure:"CreateDirectory"`
	Active          bool     `mapstructure:"Active"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UserAgent       string   `mapstructure:"UserAgent"`
}

// FilterConfig 对应 [Filters] 段；Cache 与 NoCache 互斥。
type FilterConfig struct {
	Cache   []string `mapstructure:"Cache"`
	NoCache []string `mapstructure:"NoCache"`
}

// PreloadConfig 对应 [Preload] 段，serve 启动后会按此预热缓存。
type PreloadConfig struct {
	URLs        []string `mapstructure:"URLs"`
	Parallelism int      `mapstructure:"Parallelism"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Filters FilterConfig  `mapstructure:"Filters"`
	Preload PreloadConfig `mapstructure:"Preload"`
}

// FilterMode 输出 cache / no-cache / all，供日志字段使用。
func (f FilterConfig) FilterMode() string {
	switch {
	case len(f.Cache) > 0:
		return "cache"
	case len(f.NoCache) > 0:
		return "no-cache"
	default:
		return "all"
	}
}
