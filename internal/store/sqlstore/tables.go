package sqlstore

import (
	"errors"

	"github.com/yuqie6/SaveVault/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ store.Store = (*Store)(nil)

// saveModel saves 表
// 字段不命名为 CreatedAt，避免 gorm 自动填充秒级时间戳
type saveModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	ProfileID string `gorm:"size:128;not null;index:idx_saves_profile_created,priority:1"`
	Version   int    `gorm:"not null"`
	Data      []byte `gorm:"type:blob"`
	CreatedMs int64  `gorm:"column:created_at;not null;index:idx_saves_profile_created,priority:2"`
	Checksum  string `gorm:"size:128"`
}

func (saveModel) TableName() string { return "saves" }

// metaModel meta 表
type metaModel struct {
	Key       string `gorm:"column:key;primaryKey;size:255"`
	Value     string `gorm:"type:text"`
	UpdatedMs int64  `gorm:"column:updated_at;not null"`
}

func (metaModel) TableName() string { return "meta" }

// logModel logs 表
type logModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	Timestamp int64  `gorm:"column:timestamp;not null;index"`
	Level     string `gorm:"size:16;index"`
	Source    string `gorm:"size:16;index"`
	Message   string `gorm:"type:text"`
	Data      []byte `gorm:"type:blob"`
	ProfileID string `gorm:"size:128"`
}

func (logModel) TableName() string { return "logs" }

func toSaveModel(rec *store.SaveRecord) saveModel {
	return saveModel{
		ID:        rec.ID,
		ProfileID: rec.ProfileID,
		Version:   rec.Version,
		Data:      rec.Data,
		CreatedMs: rec.CreatedAt,
		Checksum:  rec.Checksum,
	}
}

func (m saveModel) record() store.SaveRecord {
	return store.SaveRecord{
		ID:        m.ID,
		ProfileID: m.ProfileID,
		Version:   m.Version,
		Data:      m.Data,
		CreatedAt: m.CreatedMs,
		Checksum:  m.Checksum,
	}
}

type saveTable struct {
	db *gorm.DB
}

func (t saveTable) Add(rec *store.SaveRecord) (int64, error) {
	m := toSaveModel(rec)
	m.ID = 0
	if err := t.db.Create(&m).Error; err != nil {
		return 0, store.Wrap("saves.add", err)
	}
	return m.ID, nil
}

func (t saveTable) Get(id int64) (*store.SaveRecord, error) {
	var m saveModel
	if err := t.db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, store.Wrap("saves.get", err)
	}
	rec := m.record()
	return &rec, nil
}

func (t saveTable) Put(rec *store.SaveRecord) error {
	m := toSaveModel(rec)
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&m).Error
	return store.Wrap("saves.put", err)
}

func (t saveTable) Delete(id int64) error {
	return store.Wrap("saves.delete", t.db.Delete(&saveModel{}, id).Error)
}

func (t saveTable) find(op string, q *gorm.DB) ([]store.SaveRecord, error) {
	var models []saveModel
	if err := q.Find(&models).Error; err != nil {
		return nil, store.Wrap(op, err)
	}
	out := make([]store.SaveRecord, 0, len(models))
	for _, m := range models {
		out = append(out, m.record())
	}
	return out, nil
}

func (t saveTable) ListByProfile(profileID string) ([]store.SaveRecord, error) {
	return t.find("saves.list_by_profile", t.db.Where("profile_id = ?", profileID).Order("created_at ASC, id ASC"))
}

func (t saveTable) List() ([]store.SaveRecord, error) {
	return t.find("saves.list", t.db.Order("id ASC"))
}

func (t saveTable) ProfileIDs() ([]string, error) {
	var ids []string
	if err := t.db.Model(&saveModel{}).Distinct("profile_id").Order("profile_id ASC").Pluck("profile_id", &ids).Error; err != nil {
		return nil, store.Wrap("saves.profile_ids", err)
	}
	return ids, nil
}

func (t saveTable) Count() (int64, error) {
	var n int64
	if err := t.db.Model(&saveModel{}).Count(&n).Error; err != nil {
		return 0, store.Wrap("saves.count", err)
	}
	return n, nil
}

func (t saveTable) Clear() error {
	return store.Wrap("saves.clear", t.db.Where("1 = 1").Delete(&saveModel{}).Error)
}

type metaTable struct {
	db *gorm.DB
}

func (t metaTable) Get(key string) (*store.MetaRecord, error) {
	var m metaModel
	if err := t.db.Where("`key` = ?", key).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, store.Wrap("meta.get", err)
	}
	return &store.MetaRecord{Key: m.Key, Value: m.Value, UpdatedAt: m.UpdatedMs}, nil
}

func (t metaTable) Put(rec store.MetaRecord) error {
	m := metaModel{Key: rec.Key, Value: rec.Value, UpdatedMs: rec.UpdatedAt}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&m).Error
	return store.Wrap("meta.put", err)
}

func (t metaTable) Delete(key string) error {
	return store.Wrap("meta.delete", t.db.Where("`key` = ?", key).Delete(&metaModel{}).Error)
}

func (t metaTable) List() ([]store.MetaRecord, error) {
	var models []metaModel
	if err := t.db.Order("`key` ASC").Find(&models).Error; err != nil {
		return nil, store.Wrap("meta.list", err)
	}
	out := make([]store.MetaRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.MetaRecord{Key: m.Key, Value: m.Value, UpdatedAt: m.UpdatedMs})
	}
	return out, nil
}

func (t metaTable) Count() (int64, error) {
	var n int64
	if err := t.db.Model(&metaModel{}).Count(&n).Error; err != nil {
		return 0, store.Wrap("meta.count", err)
	}
	return n, nil
}

func (t metaTable) Clear() error {
	return store.Wrap("meta.clear", t.db.Where("1 = 1").Delete(&metaModel{}).Error)
}

type logTable struct {
	db *gorm.DB
}

func (t logTable) Add(rec *store.LogRecord) (int64, error) {
	m := logModel{
		Timestamp: rec.Timestamp,
		Level:     rec.Level,
		Source:    rec.Source,
		Message:   rec.Message,
		Data:      rec.Data,
		ProfileID: rec.ProfileID,
	}
	if err := t.db.Create(&m).Error; err != nil {
		return 0, store.Wrap("logs.add", err)
	}
	return m.ID, nil
}

func (t logTable) Range(from, to int64) ([]store.LogRecord, error) {
	var models []logModel
	if err := t.db.Where("timestamp >= ? AND timestamp <= ?", from, to).
		Order("timestamp ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, store.Wrap("logs.range", err)
	}
	out := make([]store.LogRecord, 0, len(models))
	for _, m := range models {
		out = append(out, store.LogRecord{
			ID:        m.ID,
			Timestamp: m.Timestamp,
			Level:     m.Level,
			Source:    m.Source,
			Message:   m.Message,
			Data:      m.Data,
			ProfileID: m.ProfileID,
		})
	}
	return out, nil
}

func (t logTable) DeleteBefore(before int64) (int64, error) {
	result := t.db.Where("timestamp < ?", before).Delete(&logModel{})
	if result.Error != nil {
		return 0, store.Wrap("logs.delete_before", result.Error)
	}
	return result.RowsAffected, nil
}

func (t logTable) Count() (int64, error) {
	var n int64
	if err := t.db.Model(&logModel{}).Count(&n).Error; err != nil {
		return 0, store.Wrap("logs.count", err)
	}
	return n, nil
}

func (t logTable) Clear() error {
	return store.Wrap("logs.clear", t.db.Where("1 = 1").Delete(&logModel{}).Error)
}
