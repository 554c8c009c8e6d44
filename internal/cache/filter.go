package cache

import (
	"fmt"
	"regexp"
	"sync"
)

// compiledPattern 保留原始表达式，便于对外回显配置。
type compiledPattern struct {
	source string
	re     *regexp.Regexp
}

// FilterSet 维护互斥的 include（cache）与 exclude（noCache）两组正则。
// 两组均为空时表示缓存所有请求；匹配总是整串匹配。
type FilterSet struct {
	mu      sync.RWMutex
	include []compiledPattern
	exclude []compiledPattern
}

// SetInclude 整体替换 include 列表；exclude 非空时返回 ErrConflictingFilters。
func (f *FilterSet) SetInclude(patterns []string) error {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.exclude) > 0 {
		return ErrConflictingFilters
	}
	f.include = compiled
	return nil
}

// SetExclude 整体替换 exclude 列表；include 非空时返回 ErrConflictingFilters。
func (f *FilterSet) SetExclude(patterns []string) error {
	compiled, err := compilePatterns(patterns)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.include) > 0 {
		return ErrConflictingFilters
	}
	f.exclude = compiled
	return nil
}

// Clear 清空两组过滤器。
func (f *FilterSet) Clear() {
	f.mu.Lock()
	f.include = nil
	f.exclude = nil
	f.mu.Unlock()
}

// Include 返回 include 列表的原始表达式。
func (f *FilterSet) Include() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sources(f.include)
}

// Exclude 返回 exclude 列表的原始表达式。
func (f *FilterSet) Exclude() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sources(f.exclude)
}

// ShouldCache 判断 URL 是否允许进入缓存。
func (f *FilterSet) ShouldCache(rawURL string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.exclude) > 0 {
		for _, p := range f.exclude {
			if p.re.MatchString(rawURL) {
				return false
			}
		}
		return true
	}

	if len(f.include) > 0 {
		for _, p := range f.include {
			if p.re.MatchString(rawURL) {
				return true
			}
		}
		return false
	}

	return true
}

// CompilePattern 以整串匹配语义编译表达式，配置校验阶段也复用该函数。
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid filter pattern %q: %w", pattern, err)
	}
	return re, nil
}

func compilePatterns(patterns []string) ([]compiledPattern, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := CompilePattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, compiledPattern{source: p, re: re})
	}
	return out, nil
}

func sources(patterns []compiledPattern) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.source)
	}
	return out
}
