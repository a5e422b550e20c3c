package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName 是数据目录下的独占锁文件名。
const LockFileName = ".genrecat.lock"

// ErrLocked 表示数据目录已被另一个进程持有。
var ErrLocked = errors.New("数据目录已被另一个进程锁定")

// DirLock 是数据目录上的进程级独占锁。
type DirLock struct {
	fl *flock.Flock
}

// LockDir 尝试对 dir 加独占锁（非阻塞）。dir 不存在时会先创建。
// 已被占用时返回的错误满足 errors.Is(err, ErrLocked)。
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, LockFileName)
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("加锁失败：%q：%w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w：%q", ErrLocked, path)
	}
	return &DirLock{fl: fl}, nil
}

// Path 返回锁文件路径。
func (l *DirLock) Path() string {
	if l == nil || l.fl == nil {
		return ""
	}
	return l.fl.Path()
}

// Unlock 释放锁；对 nil 安全。锁文件本身保留。
func (l *DirLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
