package cache

import "errors"

var (
	// ErrNotFound 表示缓存条目（正文或 dataInfo）不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrInvalidDirectory 表示缓存目录不存在、不是目录或不可写。
	ErrInvalidDirectory = errors.New("cache directory must exist and be writable")

	// ErrNoDirectory 表示尚未设置缓存目录，无法激活或计算文件路径。
	ErrNoDirectory = errors.New("cache directory not set")

	// ErrConflictingFilters 表示 cache 与 noCache 过滤器不能同时设置。
	ErrConflictingFilters = errors.New("cannot set both cache filters and no-cache filters")

	// ErrHookInstall 表示拦截钩子无法注册（已被其它实例占用等）。
	ErrHookInstall = errors.New("cannot install interception hook")
)
