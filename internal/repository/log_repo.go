package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store"
)

// LogRepository 结构化日志仓储（logs 表）
type LogRepository struct {
	store store.Store
	now   func() time.Time
}

// NewLogRepository 创建日志仓储
func NewLogRepository(st store.Store) *LogRepository {
	return &LogRepository{store: st, now: time.Now}
}

// Append 校验并追加一条日志；Timestamp 为 0 时取当前时间
func (r *LogRepository) Append(ctx context.Context, row *schema.LogRow) (int64, error) {
	if row == nil {
		return 0, fmt.Errorf("log row is nil")
	}
	if row.Timestamp == 0 {
		row.Timestamp = r.now().UnixMilli()
	}
	if err := schema.ValidateLogRow(row); err != nil {
		return 0, err
	}

	var data []byte
	if len(row.Data) > 0 {
		b, err := json.Marshal(row.Data)
		if err != nil {
			return 0, fmt.Errorf("序列化日志数据失败: %w", err)
		}
		data = b
	}

	var id int64
	err := r.store.Update(ctx, func(tx store.Tx) error {
		var err error
		id, err = tx.Logs().Add(&store.LogRecord{
			Timestamp: row.Timestamp,
			Level:     string(row.Level),
			Source:    string(row.Source),
			Message:   row.Message,
			Data:      data,
			ProfileID: row.ProfileID,
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("写入日志失败: %w", err)
	}
	row.ID = id
	return id, nil
}

// GetByTimeRange 按时间范围查询日志（毫秒，闭区间）
func (r *LogRepository) GetByTimeRange(ctx context.Context, startTime, endTime int64) ([]schema.LogRow, error) {
	var out []schema.LogRow
	err := r.store.View(ctx, func(tx store.Tx) error {
		recs, err := tx.Logs().Range(startTime, endTime)
		if err != nil {
			return err
		}
		out = make([]schema.LogRow, 0, len(recs))
		for _, rec := range recs {
			row := schema.LogRow{
				ID:        rec.ID,
				Timestamp: rec.Timestamp,
				Level:     schema.LogLevel(rec.Level),
				Source:    schema.LogSource(rec.Source),
				Message:   rec.Message,
				ProfileID: rec.ProfileID,
			}
			if len(rec.Data) > 0 {
				_ = json.Unmarshal(rec.Data, &row.Data)
			}
			out = append(out, row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("查询日志失败: %w", err)
	}
	return out, nil
}

// DeleteOlderThan 删除 days 天之前的日志，返回删除条数
func (r *LogRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := r.now().AddDate(0, 0, -days).UnixMilli()
	var n int64
	err := r.store.Update(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Logs().DeleteBefore(cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("清理旧日志失败: %w", err)
	}
	return n, nil
}

// Count 日志总数
func (r *LogRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Logs().Count()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("统计日志失败: %w", err)
	}
	return n, nil
}
