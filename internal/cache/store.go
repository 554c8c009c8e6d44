package cache

import (
	"io"
	"os"
	"time"
)

// InfoSuffix 是 dataInfo 旁路文件的后缀，属于对外可见的磁盘布局约定。
const InfoSuffix = ".dataInfo"

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<CacheDirectory>/<key>            # 响应正文
//	<CacheDirectory>/<key>.dataInfo   # DataInfo（JSON）
//
// 只有正文非空且 dataInfo 可解析时，条目才视为已缓存。
type Store interface {
	// Dir 返回缓存根目录（绝对路径）。
	Dir() string

	// DataPath 返回 key 对应的正文文件路径。
	DataPath(key string) string

	// Lookup 返回已提交的条目及其 DataInfo；任何一半缺失都返回 ErrNotFound，
	// dataInfo 无法解析时返回包装后的解码错误。
	Lookup(key string) (*Entry, *DataInfo, error)

	// Open 以只读方式打开正文文件。
	Open(key string) (*ReadResult, error)

	// CreateTemp 在缓存目录下创建临时文件，用于回源时边读边写。
	CreateTemp(key string) (*os.File, error)

	// Commit 将临时文件 rename 为正文并写入 dataInfo，整个过程持有条目锁。
	Commit(key, tempPath string, info *DataInfo) (*Entry, error)

	// Discard 删除未提交的临时文件。
	Discard(tempPath string)

	// ReadInfo 直接读取 dataInfo 旁路文件。
	ReadInfo(key string) (*DataInfo, error)

	// Remove 删除单个条目（正文 + dataInfo）。
	Remove(key string) error

	// Clear 删除根目录下所有文件与子目录，但保留根目录本身。
	Clear() error
}

// Entry 表示一次已提交的缓存条目，包含绝对文件路径及文件信息。
type Entry struct {
	Key       string    `json:"key"`
	FilePath  string    `json:"file_path"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ReadResult 组合 Entry 与正文 Reader，便于命中分支直接流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}
