// Package migration 维护存储的 schema 版本：按版本顺序执行升级步骤、检查存档行完整性、创建与恢复迁移备份。
//
// 所有失败都以结构化结果返回（Success=false + Errors/Err），由调用方决定是否继续。
package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/eventbus"
	"github.com/yuqie6/SaveVault/internal/repository"
	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store"
)

// MetaKeySchemaVersion meta 表中的版本键
const MetaKeySchemaVersion = "schema_version"

// Result RunMigrations 的结果
type Result struct {
	Success         bool     `json:"success"`
	Version         int      `json:"version"`
	RecordsMigrated int      `json:"recordsMigrated"`
	Errors          []string `json:"errors"`
	TimeMs          int64    `json:"timeMs"`
	// Err 失败时为 *MigrationError
	Err error `json:"-"`
}

// Status 迁移状态
type Status struct {
	CurrentVersion      int   `json:"currentVersion"`
	AvailableMigrations []int `json:"availableMigrations"`
	PendingMigrations   []int `json:"pendingMigrations"`
	LastMigration       *int  `json:"lastMigration"`
}

// StateReport 存档行完整性检查结果
type StateReport struct {
	IsValid      bool     `json:"isValid"`
	Issues       []string `json:"issues"`
	TotalRecords int      `json:"totalRecords"`
	ValidRecords int      `json:"validRecords"`
}

// Manager 迁移管理器
type Manager struct {
	store store.Store
	logs  *repository.LogRepository
	hub   *eventbus.Hub
	steps []Step
	now   func() time.Time
}

// NewManager 使用内置步骤创建迁移管理器；logs 与 hub 可为 nil
func NewManager(st store.Store, logs *repository.LogRepository, hub *eventbus.Hub) *Manager {
	return NewManagerWithSteps(st, logs, hub, DefaultSteps())
}

// NewManagerWithSteps 使用自定义步骤创建迁移管理器
func NewManagerWithSteps(st store.Store, logs *repository.LogRepository, hub *eventbus.Hub, steps []Step) *Manager {
	return &Manager{store: st, logs: logs, hub: hub, steps: sortSteps(steps), now: time.Now}
}

// LatestVersion 程序支持的最高版本
func (m *Manager) LatestVersion() int {
	latest := BaseVersion
	for _, s := range m.steps {
		if s.Version > latest {
			latest = s.Version
		}
	}
	return latest
}

func readVersion(tx store.Tx) (int, error) {
	rec, err := tx.Meta().Get(MetaKeySchemaVersion)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return BaseVersion, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(rec.Value))
	if err != nil || v < 1 {
		slog.Warn("schema_version 无法解析，按基础版本处理", "value", rec.Value)
		return BaseVersion, nil
	}
	return v, nil
}

// GetDatabaseVersion 读取当前版本；没有记录时为 1
func (m *Manager) GetDatabaseVersion(ctx context.Context) (int, error) {
	var v int
	err := m.store.View(ctx, func(tx store.Tx) error {
		var err error
		v, err = readVersion(tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("读取 schema_version 失败: %w", err)
	}
	return v, nil
}

// GetMigrationStatus 当前版本与已注册的步骤
func (m *Manager) GetMigrationStatus(ctx context.Context) (Status, error) {
	cur, err := m.GetDatabaseVersion(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{CurrentVersion: cur, AvailableMigrations: []int{}, PendingMigrations: []int{}}
	for _, s := range m.steps {
		st.AvailableMigrations = append(st.AvailableMigrations, s.Version)
		if s.Version > cur {
			st.PendingMigrations = append(st.PendingMigrations, s.Version)
		}
	}
	if n := len(st.AvailableMigrations); n > 0 {
		last := st.AvailableMigrations[n-1]
		st.LastMigration = &last
	}
	return st, nil
}

// RunMigrations 按版本升序执行所有高于当前版本的步骤，每步一个事务。
// 全部成功后才写入新版本；中途失败时之前已提交的步骤不会回滚，版本号保持不变。
func (m *Manager) RunMigrations(ctx context.Context) Result {
	start := m.now()
	result := Result{Errors: []string{}}
	finish := func() Result {
		result.TimeMs = max(1, m.now().Sub(start).Milliseconds())
		return result
	}
	fail := func(merr *MigrationError) Result {
		result.Success = false
		result.Err = merr
		result.Errors = append(result.Errors, merr.Error())
		slog.Error("数据库迁移失败", "error", merr)
		m.audit(ctx, schema.LogLevelError, "数据库迁移失败", map[string]any{"version": result.Version, "error": merr.Error()})
		return finish()
	}

	cur, err := m.GetDatabaseVersion(ctx)
	if err != nil {
		return fail(&MigrationError{Err: err})
	}
	result.Version = cur

	latest := m.LatestVersion()
	if cur > latest {
		return fail(&MigrationError{Version: cur, Err: fmt.Errorf("数据库 schema_version=%d 高于当前程序支持的版本=%d", cur, latest)})
	}
	if cur == latest {
		result.Success = true
		return finish()
	}

	for _, step := range m.steps {
		if step.Version <= cur {
			continue
		}
		n, rowErrs, err := m.runStep(ctx, step)
		if err != nil {
			result.Errors = append(result.Errors, rowErrs...)
			return fail(&MigrationError{Version: step.Version, Step: step.Name, Err: err})
		}
		result.RecordsMigrated += n
		slog.Info("迁移步骤完成", "version", step.Version, "step", step.Name, "records", n)
	}

	err = m.store.Update(ctx, func(tx store.Tx) error {
		return tx.Meta().Put(store.MetaRecord{Key: MetaKeySchemaVersion, Value: strconv.Itoa(latest), UpdatedAt: m.now().UnixMilli()})
	})
	if err != nil {
		return fail(&MigrationError{Version: latest, Err: fmt.Errorf("写入 schema_version 失败: %w", err)})
	}

	result.Success = true
	result.Version = latest
	m.audit(ctx, schema.LogLevelInfo, "数据库迁移完成", map[string]any{"from": cur, "to": latest, "records": result.RecordsMigrated})
	m.hub.Publish(eventbus.Event{Type: eventbus.TypeMigrationApplied, Data: map[string]any{"from": cur, "to": latest, "records": result.RecordsMigrated}})
	return finish()
}

// runStep 在一个事务内迁移全部存档行；任一行失败时收集所有行错误并整步回滚
func (m *Manager) runStep(ctx context.Context, step Step) (int, []string, error) {
	if step.Migrate == nil {
		return 0, nil, errors.New("步骤未实现")
	}
	var migrated int
	var rowErrs []string
	err := m.store.Update(ctx, func(tx store.Tx) error {
		migrated, rowErrs = 0, nil
		rows, err := tx.Saves().List()
		if err != nil {
			return err
		}
		for i := range rows {
			rec := rows[i]
			changed, err := step.Migrate(&rec)
			if err != nil {
				rowErrs = append(rowErrs, fmt.Sprintf("迁移存档 %d 失败: %v", rec.ID, err))
				continue
			}
			if !changed {
				continue
			}
			if err := tx.Saves().Put(&rec); err != nil {
				return err
			}
			migrated++
		}
		if len(rowErrs) > 0 {
			return fmt.Errorf("%d 行迁移失败", len(rowErrs))
		}
		return nil
	})
	if err != nil {
		return 0, rowErrs, err
	}
	return migrated, nil, nil
}

// ValidateMigrationState 逐行检查存档数据；不会提前中止，也不会修复
func (m *Manager) ValidateMigrationState(ctx context.Context) StateReport {
	report := StateReport{Issues: []string{}}
	err := m.store.View(ctx, func(tx store.Tx) error {
		rows, err := tx.Saves().List()
		if err != nil {
			return err
		}
		report.TotalRecords = len(rows)
		for _, rec := range rows {
			if issue := inspectRow(rec); issue != "" {
				report.Issues = append(report.Issues, fmt.Sprintf("Save %d: %s", rec.ID, issue))
				continue
			}
			report.ValidRecords++
		}
		return nil
	})
	if err != nil {
		report.Issues = append(report.Issues, "Validation failed: "+err.Error())
	}
	report.IsValid = len(report.Issues) == 0
	return report
}

func inspectRow(rec store.SaveRecord) string {
	raw, err := schema.ParseJSON(rec.Data)
	if err != nil || raw == nil {
		return "Invalid data structure"
	}
	if _, ok := raw.(map[string]any); !ok {
		return "Invalid data structure"
	}
	if _, err := schema.DecodeSave(raw); err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			if missing := verr.MissingFields(); len(missing) > 0 {
				return "Missing required fields (" + strings.Join(missing, ", ") + ")"
			}
		}
		return "Validation error - " + err.Error()
	}
	// 格式不对的旧指纹由 backfill 步骤处理，这里只报告与内容不符的合法指纹
	if codec.IsFingerprint(rec.Checksum) {
		if err := codec.VerifyJSON(rec.Data, rec.Checksum); err != nil {
			return "Checksum mismatch"
		}
	}
	return ""
}

// audit 追加一条 worker 来源的审计日志；日志写入失败不影响迁移结果
func (m *Manager) audit(ctx context.Context, level schema.LogLevel, msg string, data map[string]any) {
	if m.logs == nil {
		return
	}
	row := &schema.LogRow{Level: level, Source: schema.LogSourceWorker, Message: msg, Data: data}
	if _, err := m.logs.Append(ctx, row); err != nil {
		slog.Warn("写入迁移审计日志失败", "error", err)
	}
}
