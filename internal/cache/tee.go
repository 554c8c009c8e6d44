package cache

import (
	"errors"
	"io"
	"sync"
)

// TeeResult 汇总一次 tee 读取的结果，在关闭回调中交给调用方决定是否提交。
type TeeResult struct {
	Bytes int64
	EOF   bool
	Err   error
}

// TeeReadCloser 在读取上游数据的同时把相同字节按顺序写入 sink。
// Close 依次关闭 source、sink，最后调用一次 OnClose 注册的回调。
type TeeReadCloser struct {
	src  io.ReadCloser
	sink io.WriteCloser

	written int64
	eof     bool
	readErr error

	onClose   func(TeeResult)
	closeOnce sync.Once
	closeErr  error
}

// NewTeeReadCloser 包装 src，读到的数据会同步写入 sink。
func NewTeeReadCloser(src io.ReadCloser, sink io.WriteCloser) *TeeReadCloser {
	return &TeeReadCloser{src: src, sink: sink}
}

// OnClose 注册关闭回调；每个实例只保留一个，重复注册会覆盖。
func (t *TeeReadCloser) OnClose(fn func(TeeResult)) {
	t.onClose = fn
}

// Bytes 返回当前已写入 sink 的字节数。
func (t *TeeReadCloser) Bytes() int64 {
	return t.written
}

func (t *TeeReadCloser) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 {
		w, wErr := t.sink.Write(p[:n])
		t.written += int64(w)
		if wErr == nil && w < n {
			wErr = io.ErrShortWrite
		}
		if wErr != nil {
			t.readErr = wErr
			return n, wErr
		}
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			t.eof = true
		} else {
			t.readErr = err
		}
	}
	return n, err
}

// Close 保证 source、sink 都被关闭后才触发回调，即使回调 panic 也不会跳过关闭流程。
func (t *TeeReadCloser) Close() error {
	t.closeOnce.Do(func() {
		defer t.notify()

		srcErr := t.src.Close()
		var sinkErr error
		if syncer, ok := t.sink.(interface{ Sync() error }); ok {
			sinkErr = syncer.Sync()
		}
		if err := t.sink.Close(); sinkErr == nil {
			sinkErr = err
		}
		if sinkErr != nil && t.readErr == nil {
			t.readErr = sinkErr
		}
		t.closeErr = errors.Join(srcErr, sinkErr)
	})
	return t.closeErr
}

func (t *TeeReadCloser) notify() {
	if t.onClose == nil {
		return
	}
	t.onClose(TeeResult{Bytes: t.written, EOF: t.eof, Err: t.readErr})
}
