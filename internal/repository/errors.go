package repository

import "errors"

// ErrNotFound 表示目标照片记录不存在或已被删除。
var ErrNotFound = errors.New("repository: photo not found")
