package schema

import (
	"fmt"
	"strings"
)

const reasonRequired = "is required"

// Violation 单条校验失败
type Violation struct {
	Path    string `json:"path"`
	Reason  string `json:"reason"`
	Missing bool   `json:"missing,omitempty"`
}

func (v Violation) String() string {
	if v.Path == "" {
		return v.Reason
	}
	return v.Path + " " + v.Reason
}

// ValidationError 结构/取值校验失败，列出全部违规项而不是只报第一条
// Version 非空时表示存档 version 取值不受支持，errors.As 可直接取出
type ValidationError struct {
	Entity     string
	Violations []Violation
	Version    *VersionMismatchError
}

// Unwrap 暴露存档版本不匹配
func (e *ValidationError) Unwrap() error {
	if e.Version == nil {
		return nil
	}
	return e.Version
}

// VersionMismatchError 文件版本或存档版本不是当前支持的取值
type VersionMismatchError struct {
	Field string
	Got   int64
	Want  int64
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%s=%d 不受支持，期望 %d", e.Field, e.Got, e.Want)
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return fmt.Sprintf("%s 校验失败: %s", e.Entity, strings.Join(parts, "; "))
}

// MissingFields 返回缺失的必填字段路径
func (e *ValidationError) MissingFields() []string {
	var out []string
	for _, v := range e.Violations {
		if v.Missing {
			out = append(out, v.Path)
		}
	}
	return out
}

// InvalidFields 返回存在但取值非法的字段
func (e *ValidationError) InvalidFields() []Violation {
	var out []Violation
	for _, v := range e.Violations {
		if !v.Missing {
			out = append(out, v)
		}
	}
	return out
}

// HasPath 判断某个路径是否出现在违规项中
func (e *ValidationError) HasPath(path string) bool {
	for _, v := range e.Violations {
		if v.Path == path {
			return true
		}
	}
	return false
}
