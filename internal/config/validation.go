package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.CacheDirectory == "" {
		return newFieldError("Global.CacheDirectory", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if len(c.Filters.Cache) > 0 && len(c.Filters.NoCache) > 0 {
		return newFieldError("Filters.Cache/NoCache", "不能同时设置")
	}
	if err := validatePatterns("Filters.Cache", c.Filters.Cache); err != nil {
		return err
	}
	if err := validatePatterns("Filters.NoCache", c.Filters.NoCache); err != nil {
		return err
	}

	if c.Preload.Parallelism < 0 {
		return newFieldError("Preload.Parallelism", "不能为负数")
	}
	for i, raw := range c.Preload.URLs {
		if err := validateURL(raw); err != nil {
			return fmt.Errorf("%s: %w", indexField("Preload.URLs", i), err)
		}
	}

	return nil
}

func validatePatterns(field string, patterns []string) error {
	for i, p := range patterns {
		if _, err := regexp.Compile(`^(?:` + p + `)$`); err != nil {
			return newFieldError(indexField(field, i), fmt.Sprintf("正则无法编译: %v", err))
		}
	}
	return nil
}

// ValidateURL 校验预加载 URL，CLI 参数也复用该规则。
func ValidateURL(raw string) error {
	return validateURL(raw)
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("URL 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
