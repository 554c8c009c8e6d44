package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tilecache/tilecache/internal/config"
)

// ServiceName 写入每条日志的 service 字段。
const ServiceName = "tilecache"

// InitLogger 构建 JSON 结构化日志：文件输出经 lumberjack 轮转，目录不可用时降级到 stdout。
// 每条日志都会带上 service 与 cache_directory，便于多实例共享日志采集时区分来源。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(newStaticFieldsHook(logrus.Fields{
		"service":         ServiceName,
		"cache_directory": cfg.CacheDirectory,
	}))

	output, outErr := openOutput(cfg)
	logger.SetOutput(output)

	// 第三方库经由 logrus 标准 logger 输出时保持同一格式与级别。
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(output)
	logrus.SetLevel(level)

	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// openOutput 返回日志 Writer；未配置文件时为 stdout，目录创建失败时同样退回 stdout 并返回原因。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// staticFieldsHook 给每条日志补充固定字段，调用方显式设置的同名字段优先。
type staticFieldsHook struct {
	fields logrus.Fields
}

func newStaticFieldsHook(fields logrus.Fields) *staticFieldsHook {
	return &staticFieldsHook{fields: fields}
}

func (h *staticFieldsHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *staticFieldsHook) Fire(entry *logrus.Entry) error {
	for key, value := range h.fields {
		if _, exists := entry.Data[key]; !exists {
			entry.Data[key] = value
		}
	}
	return nil
}
