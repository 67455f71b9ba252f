package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store"
)

const (
	// BackupIDPrefix 备份 ID 前缀，后接 Unix 毫秒
	BackupIDPrefix = "migration_backup_"
	// BackupMetaPrefix meta 表中备份键的前缀
	BackupMetaPrefix = "backup_"
)

// BackupResult CreateMigrationBackup 的结果
type BackupResult struct {
	Success     bool   `json:"success"`
	BackupID    string `json:"backupId"`
	RecordCount int    `json:"recordCount"`
	Error       string `json:"error,omitempty"`
	// Err 失败时为 *MigrationError
	Err error `json:"-"`
}

// BackupInfo 已有备份的概要
type BackupInfo struct {
	BackupID    string `json:"backupId"`
	CreatedAt   int64  `json:"createdAt"`
	RecordCount int    `json:"recordCount"`
	MetaCount   int    `json:"metaCount"`
}

// backupSave 快照中的存档行；payload 是合法 JSON 时内联保存，否则原样保存字节
type backupSave struct {
	ID        int64           `json:"id"`
	ProfileID string          `json:"profileId"`
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data,omitempty"`
	RawData   []byte          `json:"rawData,omitempty"`
	CreatedAt int64           `json:"createdAt"`
	Checksum  string          `json:"checksum"`
}

type backupMeta struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

type snapshot struct {
	Saves     []backupSave `json:"saves"`
	Meta      []backupMeta `json:"meta"`
	CreatedAt int64        `json:"createdAt"`
}

func backupKey(backupID string) string {
	return BackupMetaPrefix + backupID
}

func isBackupKey(key string) bool {
	return strings.HasPrefix(key, BackupMetaPrefix)
}

func toBackupSave(rec store.SaveRecord) backupSave {
	out := backupSave{
		ID:        rec.ID,
		ProfileID: rec.ProfileID,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt,
		Checksum:  rec.Checksum,
	}
	if _, err := schema.ParseJSON(rec.Data); err == nil {
		out.Data = json.RawMessage(rec.Data)
	} else {
		out.RawData = rec.Data
	}
	return out
}

func (b backupSave) record() store.SaveRecord {
	data := []byte(b.Data)
	if len(data) == 0 {
		data = b.RawData
	}
	return store.SaveRecord{
		ID:        b.ID,
		ProfileID: b.ProfileID,
		Version:   b.Version,
		Data:      data,
		CreatedAt: b.CreatedAt,
		Checksum:  b.Checksum,
	}
}

// CreateMigrationBackup 以一致快照读取 saves 与 meta（排除已有备份），写入新的 backup_<id> 键。
// 备份只追加；时间戳冲突时顺延 1ms。
func (m *Manager) CreateMigrationBackup(ctx context.Context) BackupResult {
	fail := func(err error) BackupResult {
		merr := &MigrationError{Err: fmt.Errorf("创建迁移备份失败: %w", err)}
		slog.Error("创建迁移备份失败", "error", err)
		return BackupResult{Success: false, Error: merr.Error(), Err: merr}
	}

	snap := snapshot{Saves: []backupSave{}, Meta: []backupMeta{}}
	err := m.store.View(ctx, func(tx store.Tx) error {
		saves, err := tx.Saves().List()
		if err != nil {
			return err
		}
		meta, err := tx.Meta().List()
		if err != nil {
			return err
		}
		for _, rec := range saves {
			snap.Saves = append(snap.Saves, toBackupSave(rec))
		}
		for _, rec := range meta {
			if isBackupKey(rec.Key) {
				continue
			}
			snap.Meta = append(snap.Meta, backupMeta{Key: rec.Key, Value: rec.Value, UpdatedAt: rec.UpdatedAt})
		}
		return nil
	})
	if err != nil {
		return fail(err)
	}

	var backupID string
	err = m.store.Update(ctx, func(tx store.Tx) error {
		ts := m.now().UnixMilli()
		for {
			backupID = BackupIDPrefix + strconv.FormatInt(ts, 10)
			existing, err := tx.Meta().Get(backupKey(backupID))
			if err != nil {
				return err
			}
			if existing == nil {
				break
			}
			ts++
		}
		snap.CreatedAt = ts
		b, err := json.Marshal(snap)
		if err != nil {
			return err
		}
		return tx.Meta().Put(store.MetaRecord{Key: backupKey(backupID), Value: string(b), UpdatedAt: ts})
	})
	if err != nil {
		return fail(err)
	}

	slog.Info("迁移备份已创建", "backup_id", backupID, "records", len(snap.Saves))
	return BackupResult{Success: true, BackupID: backupID, RecordCount: len(snap.Saves)}
}

// ListMigrationBackups 按创建时间升序列出备份
func (m *Manager) ListMigrationBackups(ctx context.Context) ([]BackupInfo, error) {
	out := []BackupInfo{}
	err := m.store.View(ctx, func(tx store.Tx) error {
		meta, err := tx.Meta().List()
		if err != nil {
			return err
		}
		for _, rec := range meta {
			if !strings.HasPrefix(rec.Key, BackupMetaPrefix+BackupIDPrefix) {
				continue
			}
			var snap snapshot
			if err := json.Unmarshal([]byte(rec.Value), &snap); err != nil {
				slog.Warn("备份内容无法解析", "key", rec.Key, "error", err)
				continue
			}
			out = append(out, BackupInfo{
				BackupID:    strings.TrimPrefix(rec.Key, BackupMetaPrefix),
				CreatedAt:   snap.CreatedAt,
				RecordCount: len(snap.Saves),
				MetaCount:   len(snap.Meta),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("列出迁移备份失败: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// RestoreMigrationBackup 在一个事务内用快照替换全部存档行与非备份 meta，返回恢复的存档行数
func (m *Manager) RestoreMigrationBackup(ctx context.Context, backupID string) (int, error) {
	var restored int
	err := m.store.Update(ctx, func(tx store.Tx) error {
		restored = 0
		rec, err := tx.Meta().Get(backupKey(backupID))
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, backupID)
		}
		var snap snapshot
		if err := json.Unmarshal([]byte(rec.Value), &snap); err != nil {
			return fmt.Errorf("解析备份失败: %w", err)
		}

		if err := tx.Saves().Clear(); err != nil {
			return err
		}
		for _, s := range snap.Saves {
			row := s.record()
			if err := tx.Saves().Put(&row); err != nil {
				return err
			}
			restored++
		}

		meta, err := tx.Meta().List()
		if err != nil {
			return err
		}
		for _, mr := range meta {
			if isBackupKey(mr.Key) {
				continue
			}
			if err := tx.Meta().Delete(mr.Key); err != nil {
				return err
			}
		}
		for _, mr := range snap.Meta {
			if err := tx.Meta().Put(store.MetaRecord{Key: mr.Key, Value: mr.Value, UpdatedAt: mr.UpdatedAt}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("恢复迁移备份失败: %w", err)
	}

	slog.Info("迁移备份已恢复", "backup_id", backupID, "records", restored)
	m.audit(ctx, schema.LogLevelWarn, "迁移备份已恢复", map[string]any{"backup_id": backupID, "records": restored})
	return restored, nil
}
