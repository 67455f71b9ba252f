package testutil

import (
	"path/filepath"
	"testing"

	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store/badgerstore"
	"github.com/yuqie6/SaveVault/internal/store/sqlstore"
)

// OpenTestStore 在临时目录打开 SQLite 存储，测试结束时关闭
func OpenTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	s, err := sqlstore.Open(filepath.Join(t.TempDir(), "savevault.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// OpenTestBadger 打开内存 badger 存储，测试结束时关闭
func OpenTestBadger(t *testing.T) *badgerstore.Store {
	t.Helper()

	s, err := badgerstore.OpenMemory()
	if err != nil {
		t.Fatalf("open test badger: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SampleProfile 构造一个所有数值字段都非零的 profile，便于比对往返结果
func SampleProfile(id, name string, land int64) schema.Profile {
	return schema.Profile{
		ID:          id,
		Name:        name,
		CreatedAt:   1700000000000,
		LastActive:  1700000000000 + land,
		Progress:    schema.Progress{Land: land, Ward: 5, DistanceM: 1000},
		Currencies:  schema.Currencies{Arcana: 100, Gold: 500},
		Enchants:    schema.Enchants{Firepower: 2, Scales: 1, Tier: 1},
		Stats:       schema.Stats{PlaytimeS: 3600, Deaths: 3, TotalDistanceM: 5000},
		Leaderboard: schema.Leaderboard{HighestWard: 10, FastestBossS: 120},
		Sim:         schema.SimClock{LastSimWallClock: 1700000000123, BgCoveredMs: 98765},
	}
}

// SampleSave 用给定 profiles 与默认设置构造存档
func SampleSave(profiles ...schema.Profile) schema.Save {
	return schema.NewSave(profiles, schema.DefaultSettings())
}
