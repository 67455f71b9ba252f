package codec

import (
	"errors"
	"fmt"

	"github.com/yuqie6/SaveVault/internal/schema"
)

// ErrMalformed 导出文件无法解析为 JSON
var ErrMalformed = errors.New("导出文件格式无法解析")

// ChecksumMismatchError 指纹与内容不符，视为篡改或损坏
type ChecksumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	if e.Expected == "" {
		return "校验和为空，数据可能已损坏或被篡改"
	}
	return fmt.Sprintf("校验和不匹配，数据可能已损坏或被篡改 (expected=%s actual=%s)", e.Expected, e.Actual)
}

// VersionMismatchError 文件版本或存档版本不是当前支持的取值
type VersionMismatchError = schema.VersionMismatchError
