package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 TILECACHE_CACHEDIRECTORY。
const EnvPrefix = "TILECACHE"

// DefaultUserAgent 与 cache.DefaultUserAgent 保持一致，避免 config 反向依赖 cache。
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:66.0) Gecko/20100101 Firefox/66.0"

// listKeys 是没有默认值的列表字段，需要显式绑定才能被环境变量覆盖，
// 值以逗号分隔，例如 TILECACHE_FILTERS_NOCACHE='.*\.json,.*/api/.*'。
var listKeys = []string{"Filters.Cache", "Filters.NoCache", "Preload.URLs"}

// Load 读取 TOML 配置，叠加默认值与 TILECACHE_* 环境变量，校验后把缓存目录转为绝对路径。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v, err := newViper(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := finalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range listKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", key, err)
		}
	}

	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDirectory", "./tiles")
	v.SetDefault("CreateDirectory", true)
	v.SetDefault("Active", true)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UserAgent", DefaultUserAgent)
	v.SetDefault("Preload.Parallelism", 0)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return v, nil
}

// finalize 补齐被显式写成零值的字段，执行校验，并固定缓存目录的绝对路径。
func finalize(cfg *Config) error {
	g := &cfg.Global
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if strings.TrimSpace(g.UserAgent) == "" {
		g.UserAgent = DefaultUserAgent
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	absDir, err := filepath.Abs(g.CacheDirectory)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	g.CacheDirectory = absDir
	return nil
}

// durationDecodeHook 把字符串交给 Duration.UnmarshalText，数字按秒解释。
func durationDecodeHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(Duration(0))

	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}

		var d Duration
		switch v := data.(type) {
		case string:
			if err := d.UnmarshalText([]byte(v)); err != nil {
				return nil, err
			}
		case int:
			d = Duration(time.Duration(v) * time.Second)
		case int64:
			d = Duration(time.Duration(v) * time.Second)
		case float64:
			d = Duration(time.Duration(v * float64(time.Second)))
		case Duration:
			d = v
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
		return d, nil
	}
}
