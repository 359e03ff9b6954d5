package storage

import (
	"context"
	"io"
)

// Writer 定义对象存储写接口，支持流式写入。
// contentType 随对象一并保存，便于直接回源展示图片。
type Writer interface {
	Write(ctx context.Context, key, contentType string, r io.Reader) (Location, error)
}

// Reader 定义对象存储读接口，支持流式读取。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
}

// Deleter 定义对象删除接口。
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Storage 组合了读写能力的完整存储接口。
type Storage interface {
	Writer
	Reader
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}
