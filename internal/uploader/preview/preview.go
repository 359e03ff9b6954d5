package preview

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"floradrop/internal/uploader/media"

	"github.com/google/uuid"
)

// ErrAlreadyReleased 表示预览句柄的第二次释放，属于调用方的生命周期缺陷。
var ErrAlreadyReleased = errors.New("preview: handle already released")

// Preview 是选定文件在本地的可展示副本。
// 句柄只在创建与释放之间有效；释放由创建它的 Manager 执行，且只执行一次。
type Preview struct {
	Candidate media.Candidate
	Path      string

	released bool
}

// Manager 负责预览副本的创建与回收，副本集中放在一个目录里。
type Manager struct {
	dir string

	mu   sync.Mutex
	live int
}

// NewManager 创建预览管理器。dir 为空时使用临时目录。
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "floradrop-preview-")
		if err != nil {
			return nil, fmt.Errorf("create preview dir: %w", err)
		}
		dir = tmp
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure preview dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Create 把候选文件的内容复制为本地副本并返回句柄。
// 写入采用临时文件加重命名，避免留下半成品。
func (m *Manager) Create(c media.Candidate) (*Preview, error) {
	if m == nil {
		return nil, fmt.Errorf("preview manager uninitialized")
	}

	src, err := c.Open()
	if err != nil {
		return nil, fmt.Errorf("open candidate: %w", err)
	}
	defer src.Close()

	name := uuid.NewString() + filepath.Ext(c.Name)
	targetPath := filepath.Join(m.dir, name)

	tempPath := targetPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create preview file: %w", err)
	}

	if _, err := io.Copy(file, src); err != nil {
		file.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("write preview: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("close preview file: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("rename preview file: %w", err)
	}

	m.mu.Lock()
	m.live++
	m.mu.Unlock()

	return &Preview{Candidate: c, Path: targetPath}, nil
}

// Release 删除预览副本。对同一句柄的重复释放返回 ErrAlreadyReleased，
// 不会再次触碰文件系统。
func (m *Manager) Release(p *Preview) error {
	if m == nil || p == nil {
		return nil
	}

	m.mu.Lock()
	if p.released {
		m.mu.Unlock()
		return ErrAlreadyReleased
	}
	p.released = true
	m.live--
	m.mu.Unlock()

	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove preview: %w", err)
	}
	return nil
}

// Live 返回当前存活的句柄数量。
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}
