package schema

import "fmt"

// LogLevel 日志级别
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel 解析日志级别，未知取值返回 false
func ParseLogLevel(s string) (LogLevel, bool) {
	switch LogLevel(s) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return LogLevel(s), true
	}
	return "", false
}

// LogSource 日志来源
type LogSource string

const (
	LogSourceUI     LogSource = "ui"
	LogSourceWorker LogSource = "worker"
	LogSourceRender LogSource = "render"
	LogSourceNet    LogSource = "net"
)

// ParseLogSource 解析日志来源
func ParseLogSource(s string) (LogSource, bool) {
	switch LogSource(s) {
	case LogSourceUI, LogSourceWorker, LogSourceRender, LogSourceNet:
		return LogSource(s), true
	}
	return "", false
}

// LogRow 结构化日志行
type LogRow struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Source    LogSource      `json:"source"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	ProfileID string         `json:"profileId,omitempty"`
}

func (d *decoder) enum(m map[string]any, key, path string, parse func(string) bool, allowed string) string {
	raw, ok := d.field(m, key, path)
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok || !parse(s) {
		d.invalid(join(path, key), fmt.Sprintf("must be one of %s", allowed))
		return ""
	}
	return s
}

// DecodeLogRow 校验日志行
func DecodeLogRow(raw any) (LogRow, error) {
	d := &decoder{}
	m, ok := raw.(map[string]any)
	if !ok {
		d.invalid("", "must be an object")
		return LogRow{}, d.err("LogRow")
	}
	row := LogRow{
		Timestamp: d.nonNegative(m, "timestamp", ""),
		Level: LogLevel(d.enum(m, "level", "", func(s string) bool {
			_, ok := ParseLogLevel(s)
			return ok
		}, "debug|info|warn|error")),
		Source: LogSource(d.enum(m, "source", "", func(s string) bool {
			_, ok := ParseLogSource(s)
			return ok
		}, "ui|worker|render|net")),
		Message:   d.str(m, "message", "", 1, 0),
		ProfileID: d.optionalStr(m, "profileId", ""),
	}
	if rawID, ok := m["id"]; ok && rawID != nil {
		if id, reason, ok := toInt64(rawID); !ok {
			d.invalid("id", reason)
		} else if id <= 0 {
			d.invalid("id", "must be a positive integer")
		} else {
			row.ID = id
		}
	}
	if rawData, ok := m["data"]; ok && rawData != nil {
		if obj, ok := rawData.(map[string]any); ok {
			row.Data = obj
		} else {
			d.invalid("data", "must be an object")
		}
	}
	return row, d.err("LogRow")
}

// ValidateLogRow 校验强类型日志行
func ValidateLogRow(row *LogRow) error {
	if row == nil {
		return &ValidationError{Entity: "LogRow", Violations: []Violation{{Reason: "row " + reasonRequired, Missing: true}}}
	}
	raw, err := ToGeneric(row)
	if err != nil {
		return fmt.Errorf("序列化日志行失败: %w", err)
	}
	_, err = DecodeLogRow(raw)
	return err
}
