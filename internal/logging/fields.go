package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 URL/缓存键/命中状态字段，供拦截请求日志复用。
func RequestFields(url, cacheKey string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"url":       url,
		"cache_key": cacheKey,
		"cache_hit": cacheHit,
	}
}

// PreloadFields 提供预加载批次的规模字段。
func PreloadFields(requested, parallelism int) logrus.Fields {
	return logrus.Fields{
		"action":      "preload",
		"requested":   requested,
		"parallelism": parallelism,
	}
}
