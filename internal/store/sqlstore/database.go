// Package sqlstore 基于 gorm + 纯 Go SQLite 实现 store.Store。
package sqlstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite" // 纯 Go SQLite 驱动
	"github.com/yuqie6/SaveVault/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath 内存数据库路径
const MemoryPath = ":memory:"

// Store SQLite 存储
type Store struct {
	db   *gorm.DB
	path string
}

// Open 打开（必要时创建）数据库文件
func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("db path 不能为空")
	}
	if dbPath != MemoryPath {
		// 确保目录存在
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 单连接：同一 profile 的写入经由 SQLite 自身串行化，:memory: 也始终是同一个库
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := configureDB(db, dbPath == MemoryPath); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("配置数据库失败: %w", err)
	}
	if err := autoMigrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("迁移表结构失败: %w", err)
	}

	slog.Debug("数据库已打开", "path", dbPath)
	return &Store{db: db, path: dbPath}, nil
}

// OpenMemory 打开内存数据库（测试用）
func OpenMemory() (*Store, error) {
	return Open(MemoryPath)
}

// configureDB 配置 SQLite 参数
func configureDB(db *gorm.DB, memory bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",  // 等待锁而不是立即失败
		"PRAGMA synchronous=NORMAL", // 平衡性能与安全
		"PRAGMA temp_store=MEMORY",
	}
	if !memory {
		pragmas = append([]string{"PRAGMA journal_mode=WAL"}, pragmas...) // WAL：读不阻塞写
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("执行 %s 失败: %w", pragma, err)
		}
	}
	return nil
}

// autoMigrate 自动迁移物理表结构
func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&saveModel{}, &metaModel{}, &logModel{})
}

// Path 数据库路径
func (s *Store) Path() string {
	return s.path
}

// Update 读写事务
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&txn{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return store.Wrap("commit", err)
}

// View 只读事务，结束后总是回滚
func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return store.Wrap("begin", tx.Error)
	}
	defer tx.Rollback()
	return fn(&txn{db: tx})
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txn struct {
	db *gorm.DB
}

func (t *txn) Saves() store.SaveTable { return saveTable{db: t.db} }
func (t *txn) Meta() store.MetaTable  { return metaTable{db: t.db} }
func (t *txn) Logs() store.LogTable   { return logTable{db: t.db} }
