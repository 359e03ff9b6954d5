package media

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
)

// Candidate 描述一份等待校验与上传的用户文件。
// 选定之后不可变；Open 每次返回一个独立的读取器，
// 校验、预览和传输各自打开，互不影响读取位置。
type Candidate struct {
	Name     string
	MimeType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// FromFile 从本地路径构建候选文件，对应文件选择器或相机拍摄产生的文件。
func FromFile(path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return Candidate{}, fmt.Errorf("%s is a directory", path)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType, err = sniffFileType(path)
		if err != nil {
			return Candidate{}, err
		}
	}

	return Candidate{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FromBytes 从内存数据构建候选文件，对应拖拽投放的负载，也便于测试。
func FromBytes(name, mimeType string, data []byte) Candidate {
	return Candidate{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromReadSeeker 复用一个可回绕的读取器构建候选文件，
// 服务端处理 multipart 上传时使用。
func FromReadSeeker(name, mimeType string, size int64, rs io.ReadSeeker) Candidate {
	return Candidate{
		Name:     name,
		MimeType: mimeType,
		Size:     size,
		Open: func() (io.ReadCloser, error) {
			if _, err := rs.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("rewind reader: %w", err)
			}
			return io.NopCloser(rs), nil
		},
	}
}

func sniffFileType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("sniff %s: %w", path, err)
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}
