package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"floradrop/internal/uploader/media"
)

// Progress 记录一次上传尝试的传输进度，BytesSent 单调不减。
type Progress struct {
	BytesSent  int64
	BytesTotal int64
}

// Percent 返回 0 到 100 的进度百分比。
func (p Progress) Percent() float64 {
	if p.BytesTotal <= 0 {
		return 0
	}
	return float64(p.BytesSent) / float64(p.BytesTotal) * 100
}

// Result 是服务端持久化成功后返回的照片记录。
type Result struct {
	ID         string    `json:"id"`
	StoredName string    `json:"stored_name"`
	URL        string    `json:"url"`
	SizeBytes  int64     `json:"size_bytes"`
	MimeType   string    `json:"mime_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// Error 表示网络失败或服务端的非 2xx 响应。
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("upload failed (%d): %s", e.StatusCode, e.Message)
	}
	return "upload failed: " + e.Message
}

const defaultFieldName = "photo"

// Client 把候选文件以 multipart/form-data 提交到上传端点。
// 不做内部重试；取消通过 ctx 生效并在网络层中止请求。
type Client struct {
	Endpoint   string
	FieldName  string
	APIKey     string
	HTTPClient *http.Client
}

// Send 上传候选文件，fields 作为附加表单字段一并提交。
// onProgress 在传输过程中被调用零次或多次，BytesSent 单调不减。
func (c *Client) Send(ctx context.Context, candidate media.Candidate, fields map[string]string, onProgress func(Progress)) (*Result, error) {
	if c == nil || c.Endpoint == "" {
		return nil, &Error{Message: "transport not configured"}
	}

	fieldName := c.FieldName
	if fieldName == "" {
		fieldName = defaultFieldName
	}

	src, err := candidate.Open()
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("open file: %v", err)}
	}
	defer src.Close()

	counted := &countingReader{
		r:     src,
		total: candidate.Size,
		emit:  onProgress,
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := createFilePart(form, fieldName, candidate.Name, candidate.MimeType)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, counted); err != nil {
			pw.CloseWithError(err)
			return
		}
		for k, v := range fields {
			if err := form.WriteField(k, v); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, pr)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if c.APIKey != "" {
		req.Header.Set("Authorization", "ApiKey "+c.APIKey)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp),
		}
	}

	var envelope struct {
		Data Result `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed response body: %v", err),
		}
	}

	return &envelope.Data, nil
}

func createFilePart(form *multipart.Writer, field, filename, mimeType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	if mimeType != "" {
		h.Set("Content-Type", mimeType)
	}
	return form.CreatePart(h)
}

func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return http.StatusText(resp.StatusCode)
	}

	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return strings.TrimSpace(string(body))
}

// countingReader 统计从源文件读出的字节数并上报进度。
type countingReader struct {
	r     io.Reader
	sent  int64
	total int64
	emit  func(Progress)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.emit != nil {
			c.emit(Progress{BytesSent: c.sent, BytesTotal: c.total})
		}
	}
	return n, err
}
