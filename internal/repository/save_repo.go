package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/eventbus"
	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store"
)

// DefaultKeepCount 每个 profile 默认保留的历史存档行数
const DefaultKeepCount = 3

// PutOptions PutSaveAtomic 可选参数
type PutOptions struct {
	// KeepCount 保留行数，<= 0 时使用仓储的默认值
	KeepCount int
	// Checksum 调用方预先计算的指纹；为空时由仓储计算
	Checksum string
}

// DatabaseStats 存储概况
type DatabaseStats struct {
	TotalSaves    int64 `json:"totalSaves"`
	TotalProfiles int64 `json:"totalProfiles"`
	TotalMeta     int64 `json:"totalMeta"`
	TotalLogs     int64 `json:"totalLogs"`
}

// SaveRepository 存档仓储：原子写入、裁剪历史与活动存档解析
type SaveRepository struct {
	store     store.Store
	hub       *eventbus.Hub
	now       func() time.Time
	keepCount int
}

// NewSaveRepository 创建存档仓储；hub 可为 nil
func NewSaveRepository(st store.Store, hub *eventbus.Hub) *SaveRepository {
	return &SaveRepository{store: st, hub: hub, now: time.Now, keepCount: DefaultKeepCount}
}

// SetKeepCount 设置未显式指定 KeepCount 时保留的行数；n <= 0 恢复默认值
func (r *SaveRepository) SetKeepCount(n int) {
	if n <= 0 {
		n = DefaultKeepCount
	}
	r.keepCount = n
}

func (r *SaveRepository) nowMs() int64 {
	return r.now().UnixMilli()
}

func requireProfileID(profileID string) error {
	if profileID == "" {
		return &schema.ValidationError{Entity: "SaveRow", Violations: []schema.Violation{{Path: "profileId", Reason: "is required", Missing: true}}}
	}
	return nil
}

// PutSaveAtomic 校验后在单个事务内写入新存档行、裁剪旧行并更新指针记录，返回新行 ID。
// 任何一步失败都不会留下部分结果。
func (r *SaveRepository) PutSaveAtomic(ctx context.Context, profileID string, save *schema.Save, opts *PutOptions) (int64, error) {
	if err := requireProfileID(profileID); err != nil {
		return 0, err
	}
	if err := schema.ValidateSave(save); err != nil {
		return 0, err
	}

	keepCount := r.keepCount
	var supplied string
	if opts != nil {
		if opts.KeepCount > 0 {
			keepCount = opts.KeepCount
		}
		supplied = opts.Checksum
	}

	data, err := json.Marshal(save)
	if err != nil {
		return 0, fmt.Errorf("序列化存档失败: %w", err)
	}
	sum, err := codec.FingerprintJSON(data)
	if err != nil {
		return 0, err
	}
	if supplied != "" && supplied != sum {
		return 0, &codec.ChecksumMismatchError{Expected: supplied, Actual: sum}
	}

	var id int64
	var pruned int
	err = r.store.Update(ctx, func(tx store.Tx) error {
		id, pruned = 0, 0
		now := r.nowMs()

		existing, err := tx.Saves().ListByProfile(profileID)
		if err != nil {
			return err
		}
		// 时钟回拨时也保证新行排在最后，裁剪永远不会删掉它
		createdAt := now
		if n := len(existing); n > 0 && existing[n-1].CreatedAt > createdAt {
			createdAt = existing[n-1].CreatedAt
		}

		id, err = tx.Saves().Add(&store.SaveRecord{
			ProfileID: profileID,
			Version:   save.Version,
			Data:      data,
			CreatedAt: createdAt,
			Checksum:  sum,
		})
		if err != nil {
			return err
		}

		rows, err := tx.Saves().ListByProfile(profileID)
		if err != nil {
			return err
		}
		for i := 0; i < len(rows)-keepCount; i++ {
			if err := tx.Saves().Delete(rows[i].ID); err != nil {
				return err
			}
			pruned++
		}

		ptrs, err := loadPointers(tx)
		if err != nil {
			return err
		}
		ptrs[profileID] = id
		return savePointers(tx, ptrs, now)
	})
	if err != nil {
		return 0, fmt.Errorf("写入存档失败: %w", err)
	}

	slog.Debug("存档已提交", "profile_id", profileID, "save_id", id, "pruned", pruned)
	r.hub.Publish(eventbus.Event{
		Type: eventbus.TypeSaveCommitted,
		Data: map[string]any{"profile_id": profileID, "save_id": id, "checksum": sum, "pruned": pruned},
	})
	return id, nil
}

// RowFromRecord 解码并校验存档行：payload 必须通过结构校验且与行指纹一致。
// 旧版本写入的行指纹为空或不是 64 位十六进制，只做结构校验，指纹由迁移步骤补齐。
func RowFromRecord(rec store.SaveRecord) (*schema.SaveRow, error) {
	save, err := schema.DecodeSaveJSON(rec.Data)
	if err != nil {
		return nil, err
	}
	if codec.IsFingerprint(rec.Checksum) {
		if err := codec.VerifyJSON(rec.Data, rec.Checksum); err != nil {
			return nil, err
		}
	}
	return &schema.SaveRow{
		ID:        rec.ID,
		ProfileID: rec.ProfileID,
		Version:   rec.Version,
		Data:      &save,
		CreatedAt: rec.CreatedAt,
		Checksum:  rec.Checksum,
	}, nil
}

// GetActiveSave 返回 profile 的活动存档。
// 优先使用指针记录指向的行；该行缺失或损坏时回退到最新的完好行；一行都没有时返回 (nil, nil)。
func (r *SaveRepository) GetActiveSave(ctx context.Context, profileID string) (*schema.SaveRow, error) {
	var active *schema.SaveRow
	err := r.store.View(ctx, func(tx store.Tx) error {
		active = nil
		ptrs, err := loadPointers(tx)
		if err != nil {
			return err
		}
		rows, err := tx.Saves().ListByProfile(profileID)
		if err != nil {
			return err
		}

		candidates := make([]store.SaveRecord, 0, len(rows))
		if ptr, ok := ptrs[profileID]; ok {
			for _, rec := range rows {
				if rec.ID == ptr {
					candidates = append(candidates, rec)
					break
				}
			}
			if len(candidates) == 0 {
				slog.Warn("指针指向的存档行不存在", "profile_id", profileID, "save_id", ptr)
			}
		}
		for i := len(rows) - 1; i >= 0; i-- {
			candidates = append(candidates, rows[i])
		}

		for _, rec := range candidates {
			row, err := RowFromRecord(rec)
			if err != nil {
				slog.Warn("跳过损坏的存档行", "profile_id", profileID, "save_id", rec.ID, "error", err)
				continue
			}
			active = row
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取活动存档失败: %w", err)
	}
	return active, nil
}

// GetAllSaves 返回 profile 的全部历史行（最新在前）；损坏行的 Data 为 nil
func (r *SaveRepository) GetAllSaves(ctx context.Context, profileID string) ([]schema.SaveRow, error) {
	var out []schema.SaveRow
	err := r.store.View(ctx, func(tx store.Tx) error {
		rows, err := tx.Saves().ListByProfile(profileID)
		if err != nil {
			return err
		}
		out = make([]schema.SaveRow, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			rec := rows[i]
			row, err := RowFromRecord(rec)
			if err != nil {
				row = &schema.SaveRow{ID: rec.ID, ProfileID: rec.ProfileID, Version: rec.Version, CreatedAt: rec.CreatedAt, Checksum: rec.Checksum}
			}
			out = append(out, *row)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("查询历史存档失败: %w", err)
	}
	return out, nil
}

// GetActiveSaveID 返回指针记录中的行 ID（不检查目标行是否存在）
func (r *SaveRepository) GetActiveSaveID(ctx context.Context, profileID string) (int64, bool, error) {
	var id int64
	var ok bool
	err := r.store.View(ctx, func(tx store.Tx) error {
		ptrs, err := loadPointers(tx)
		if err != nil {
			return err
		}
		id, ok = ptrs[profileID]
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("读取指针记录失败: %w", err)
	}
	return id, ok, nil
}

// DeleteSave 删除单个存档行；若它是活动行，指针改指向剩余的最新行
func (r *SaveRepository) DeleteSave(ctx context.Context, id int64) error {
	var profileID string
	err := r.store.Update(ctx, func(tx store.Tx) error {
		profileID = ""
		rec, err := tx.Saves().Get(id)
		if err != nil || rec == nil {
			return err
		}
		profileID = rec.ProfileID
		if err := tx.Saves().Delete(id); err != nil {
			return err
		}

		ptrs, err := loadPointers(tx)
		if err != nil {
			return err
		}
		if ptrs[profileID] != id {
			return nil
		}
		rest, err := tx.Saves().ListByProfile(profileID)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			delete(ptrs, profileID)
		} else {
			ptrs[profileID] = rest[len(rest)-1].ID
		}
		return savePointers(tx, ptrs, r.nowMs())
	})
	if err != nil {
		return fmt.Errorf("删除存档失败: %w", err)
	}
	if profileID != "" {
		r.hub.Publish(eventbus.Event{Type: eventbus.TypeSaveDeleted, Data: map[string]any{"profile_id": profileID, "save_id": id}})
	}
	return nil
}

// GetAllProfileIDs 返回存有存档行的全部 profileId（字典序）
func (r *SaveRepository) GetAllProfileIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		ids, err = tx.Saves().ProfileIDs()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("查询 profile 列表失败: %w", err)
	}
	return ids, nil
}

// ClearProfileData 在同一事务内删除 profile 的全部存档行与指针
func (r *SaveRepository) ClearProfileData(ctx context.Context, profileID string) error {
	if err := requireProfileID(profileID); err != nil {
		return err
	}
	err := r.store.Update(ctx, func(tx store.Tx) error {
		rows, err := tx.Saves().ListByProfile(profileID)
		if err != nil {
			return err
		}
		for _, rec := range rows {
			if err := tx.Saves().Delete(rec.ID); err != nil {
				return err
			}
		}
		ptrs, err := loadPointers(tx)
		if err != nil {
			return err
		}
		if _, ok := ptrs[profileID]; !ok {
			return nil
		}
		delete(ptrs, profileID)
		return savePointers(tx, ptrs, r.nowMs())
	})
	if err != nil {
		return fmt.Errorf("清除 profile 数据失败: %w", err)
	}
	r.hub.Publish(eventbus.Event{Type: eventbus.TypeProfileCleared, Data: map[string]any{"profile_id": profileID}})
	return nil
}

// ClearAll 清空全部表
func (r *SaveRepository) ClearAll(ctx context.Context) error {
	err := r.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.Saves().Clear(); err != nil {
			return err
		}
		if err := tx.Meta().Clear(); err != nil {
			return err
		}
		return tx.Logs().Clear()
	})
	if err != nil {
		return fmt.Errorf("清空存储失败: %w", err)
	}
	r.hub.Publish(eventbus.Event{Type: eventbus.TypeStoreCleared})
	return nil
}

// GetDatabaseStats 统计各表行数
func (r *SaveRepository) GetDatabaseStats(ctx context.Context) (DatabaseStats, error) {
	var stats DatabaseStats
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		if stats.TotalSaves, err = tx.Saves().Count(); err != nil {
			return err
		}
		ids, err := tx.Saves().ProfileIDs()
		if err != nil {
			return err
		}
		stats.TotalProfiles = int64(len(ids))
		if stats.TotalMeta, err = tx.Meta().Count(); err != nil {
			return err
		}
		stats.TotalLogs, err = tx.Logs().Count()
		return err
	})
	if err != nil {
		return DatabaseStats{}, fmt.Errorf("统计存储失败: %w", err)
	}
	return stats, nil
}
