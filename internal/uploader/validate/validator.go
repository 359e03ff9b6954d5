package validate

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"floradrop/internal/uploader/media"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// Field 标记校验失败的具体环节。
type Field string

const (
	FieldSize       Field = "size"
	FieldType       Field = "type"
	FieldDimensions Field = "dimensions"
	FieldGeneral    Field = "general"
)

// Outcome 是一次校验的结果：通过，或带字段标记的失败原因。
type Outcome struct {
	OK      bool
	Field   Field
	Message string
}

// Valid 返回通过的校验结果。
func Valid() Outcome {
	return Outcome{OK: true}
}

// Invalid 返回指定字段的失败结果。
func Invalid(field Field, format string, args ...any) Outcome {
	return Outcome{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Error 让失败的 Outcome 可以作为 error 传递。
func (o Outcome) Error() string {
	if o.OK {
		return ""
	}
	return string(o.Field) + ": " + o.Message
}

// Config 描述一台上传会话实例的校验规则，构建后只读。
type Config struct {
	MaxSizeBytes     int64
	AllowedMimeTypes map[string]struct{}
	// 像素尺寸界限，0 表示对应方向不限制。
	// 四项全为 0 时跳过解码检查。
	MinWidth  int
	MinHeight int
	MaxWidth  int
	MaxHeight int
}

// AllowTypes 把 MIME 类型列表转成 Config 需要的集合。
func AllowTypes(types ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func (c Config) checksDimensions() bool {
	return c.MinWidth > 0 || c.MinHeight > 0 || c.MaxWidth > 0 || c.MaxHeight > 0
}

// DecodeFunc 读取图片并返回像素宽高。按实例注入，避免共享全局解码器。
type DecodeFunc func(r io.Reader) (width, height int, err error)

// DefaultDecode 基于标准图像注册表解码，支持 jpeg/png/gif/webp。
func DefaultDecode(r io.Reader) (int, int, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

const defaultDecodeTimeout = 5 * time.Second

// Validator 按固定顺序执行候选文件校验：体积、类型、像素尺寸。
type Validator struct {
	cfg     Config
	decode  DecodeFunc
	timeout time.Duration
}

// New 创建校验器。decode 为 nil 时使用 DefaultDecode，
// timeout 不为正时使用默认的解码超时。
func New(cfg Config, decode DecodeFunc, timeout time.Duration) *Validator {
	if decode == nil {
		decode = DefaultDecode
	}
	if timeout <= 0 {
		timeout = defaultDecodeTimeout
	}
	return &Validator{cfg: cfg, decode: decode, timeout: timeout}
}

// Check 执行同步检查：先体积后类型，任一失败立即返回，不再继续。
func (v *Validator) Check(c media.Candidate) Outcome {
	if v.cfg.MaxSizeBytes > 0 && c.Size > v.cfg.MaxSizeBytes {
		return Invalid(FieldSize, "file is %d bytes, limit is %d", c.Size, v.cfg.MaxSizeBytes)
	}

	if len(v.cfg.AllowedMimeTypes) > 0 {
		if _, ok := v.cfg.AllowedMimeTypes[c.MimeType]; !ok {
			return Invalid(FieldType, "mime type %s is not accepted", c.MimeType)
		}
	}

	return Valid()
}

// CheckDimensions 解码图片并核对像素尺寸界限。
// 未配置尺寸界限时直接返回通过，不做解码。
func (v *Validator) CheckDimensions(ctx context.Context, c media.Candidate) Outcome {
	if !v.cfg.checksDimensions() {
		return Valid()
	}
	_, _, outcome := v.Measure(ctx, c)
	return outcome
}

// Measure 解码图片，返回像素宽高以及尺寸界限的核对结果。
// 解码在独立 goroutine 中执行并受超时约束，
// 永不回调的解码实现不会挂起调用方。
func (v *Validator) Measure(ctx context.Context, c media.Candidate) (int, int, Outcome) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	type decoded struct {
		width  int
		height int
		err    error
	}

	done := make(chan decoded, 1)
	go func() {
		r, err := c.Open()
		if err != nil {
			done <- decoded{err: err}
			return
		}
		defer r.Close()

		w, h, err := v.decode(r)
		done <- decoded{width: w, height: h, err: err}
	}()

	select {
	case <-ctx.Done():
		return 0, 0, Invalid(FieldGeneral, "image decode did not finish: %v", ctx.Err())
	case d := <-done:
		if d.err != nil {
			return 0, 0, Invalid(FieldGeneral, "cannot decode image: %v", d.err)
		}
		return d.width, d.height, v.checkBounds(d.width, d.height)
	}
}

func (v *Validator) checkBounds(width, height int) Outcome {
	cfg := v.cfg
	switch {
	case cfg.MinWidth > 0 && width < cfg.MinWidth:
		return Invalid(FieldDimensions, "width %dpx is below minimum %dpx", width, cfg.MinWidth)
	case cfg.MinHeight > 0 && height < cfg.MinHeight:
		return Invalid(FieldDimensions, "height %dpx is below minimum %dpx", height, cfg.MinHeight)
	case cfg.MaxWidth > 0 && width > cfg.MaxWidth:
		return Invalid(FieldDimensions, "width %dpx exceeds maximum %dpx", width, cfg.MaxWidth)
	case cfg.MaxHeight > 0 && height > cfg.MaxHeight:
		return Invalid(FieldDimensions, "height %dpx exceeds maximum %dpx", height, cfg.MaxHeight)
	default:
		return Valid()
	}
}
