package imgx

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // 注册 GIF 解码器
	"image/jpeg"
	_ "image/png" // 注册 PNG 解码器

	_ "golang.org/x/image/bmp"  // 注册 BMP 解码器
	_ "golang.org/x/image/webp" // 注册 WebP 解码器（海报 CDN 常按 Accept 返回 webp）
)

// ErrEmpty 表示输入图片为空。
var ErrEmpty = errors.New("图片为空")

// FormatError 表示输入不是可识别的图片。
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string { return fmt.Sprintf("无法识别的图片格式：%v", e.Err) }

func (e *FormatError) Unwrap() error { return e.Err }

// Format 返回图片格式名（jpeg/png/gif/webp/bmp），只读取文件头。
func Format(b []byte) (string, error) {
	if len(b) == 0 {
		return "", ErrEmpty
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return "", &FormatError{Err: err}
	}
	return format, nil
}

// EnsureJPEG 保证输出是 JPEG 字节（用于 posters/<id>.jpg）。
//
// 约束：
// - JPEG 原样返回（不重新编码，避免二次有损）
// - 其它可解码格式（PNG/GIF/WebP/BMP）重新编码为 JPEG；透明像素铺白底
// - 无法识别的输入返回 *FormatError
func EnsureJPEG(b []byte) ([]byte, error) {
	format, err := Format(b)
	if err != nil {
		return nil, err
	}
	if format == "jpeg" {
		return b, nil
	}

	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, &FormatError{Err: err}
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}

	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)

	var out bytes.Buffer
	// 质量 95：体积与质量之间比较均衡。
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 95}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
