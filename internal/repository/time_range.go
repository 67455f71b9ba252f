package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/yuqie6/SaveVault/internal/schema"
)

// DayRange 把 YYYY-MM-DD 换算为 loc 时区当日的毫秒闭区间 [start, end]；loc 为 nil 时用本地时区
func DayRange(date string, loc *time.Location) (startMs int64, endMs int64, err error) {
	if loc == nil {
		loc = time.Local
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return 0, 0, fmt.Errorf("解析日期失败: %w", err)
	}
	next := day.AddDate(0, 0, 1)
	return day.UnixMilli(), next.UnixMilli() - 1, nil
}

// GetByDay 查询某一天（本地时区）的日志
func (r *LogRepository) GetByDay(ctx context.Context, date string) ([]schema.LogRow, error) {
	start, end, err := DayRange(date, nil)
	if err != nil {
		return nil, err
	}
	return r.GetByTimeRange(ctx, start, end)
}
