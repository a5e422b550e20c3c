package httpx

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooLarge 表示响应体超过了调用方给定的上限。
var ErrTooLarge = errors.New("响应体超过大小上限")

// ReadLimited 读取至多 max 字节；超过上限返回 ErrTooLarge。max<=0 表示不限制。
func ReadLimited(r io.Reader, max int64) ([]byte, error) {
	if max <= 0 {
		return io.ReadAll(r)
	}
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, fmt.Errorf("%w（%d 字节）", ErrTooLarge, max)
	}
	return b, nil
}
