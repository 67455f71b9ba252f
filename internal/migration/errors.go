package migration

import (
	"errors"
	"fmt"
)

// ErrBackupNotFound 指定的迁移备份不存在
var ErrBackupNotFound = errors.New("迁移备份不存在")

// MigrationError 迁移或备份失败；调用方从结构化结果中取得，而不是由函数直接返回
type MigrationError struct {
	Version int
	Step    string
	Err     error
}

func (e *MigrationError) Error() string {
	switch {
	case e.Step != "":
		return fmt.Sprintf("迁移 v%d(%s) 失败: %v", e.Version, e.Step, e.Err)
	case e.Version > 0:
		return fmt.Sprintf("迁移 v%d 失败: %v", e.Version, e.Err)
	default:
		return fmt.Sprintf("迁移失败: %v", e.Err)
	}
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
