package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuqie6/SaveVault/internal/eventbus"
	"github.com/yuqie6/SaveVault/internal/migration"
	"github.com/yuqie6/SaveVault/internal/pkg/buildinfo"
	"github.com/yuqie6/SaveVault/internal/pkg/config"
	"github.com/yuqie6/SaveVault/internal/repository"
	"github.com/yuqie6/SaveVault/internal/service"
	"github.com/yuqie6/SaveVault/internal/store"
	"github.com/yuqie6/SaveVault/internal/store/badgerstore"
	"github.com/yuqie6/SaveVault/internal/store/sqlstore"
)

// Core 持有跨二进制共享的核心依赖
type Core struct {
	Cfg   *config.Config
	Store store.Store
	Hub   *eventbus.Hub

	// SafeMode 迁移失败时为 true：仍可读取与诊断，调用方不应再写入存档
	SafeMode       bool
	SafeModeReason string
	Migration      migration.Result

	Migrations *migration.Manager

	Repos struct {
		Saves *repository.SaveRepository
		Logs  *repository.LogRepository
	}

	Services struct {
		Transfer *service.TransferService
	}
}

// NewCore 加载配置、初始化日志并构建核心依赖
func NewCore(ctx context.Context, cfgPath string) (*Core, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg.App.LogLevel)
	return NewCoreFromConfig(ctx, cfg)
}

// NewCoreFromConfig 按已加载的配置打开存储、执行迁移并装配仓储与服务
func NewCoreFromConfig(ctx context.Context, cfg *config.Config) (*Core, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	st, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, err
	}

	c := &Core{Cfg: cfg, Store: st, Hub: eventbus.NewHub()}

	// Repos
	c.Repos.Saves = repository.NewSaveRepository(st, c.Hub)
	c.Repos.Saves.SetKeepCount(cfg.Saves.KeepCount)
	c.Repos.Logs = repository.NewLogRepository(st)

	// Services
	c.Services.Transfer = service.NewTransferService(c.Repos.Saves, c.Hub)

	// 迁移
	c.Migrations = migration.NewManager(st, c.Repos.Logs, c.Hub)
	c.Migration = c.Migrations.RunMigrations(ctx)
	if !c.Migration.Success {
		// 安全模式：允许导出与诊断，但不应执行写库链路
		c.SafeMode = true
		if c.Migration.Err != nil {
			c.SafeModeReason = c.Migration.Err.Error()
		}
		slog.Warn("数据库迁移失败，进入安全模式", "reason", c.SafeModeReason)
	}

	slog.Info("核心依赖已就绪",
		"version", buildinfo.String(),
		"driver", cfg.Storage.Driver,
		"schema_version", c.Migration.Version,
		"safe_mode", c.SafeMode,
	)
	return c, nil
}

// OpenStore 按配置打开存储后端
func OpenStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		st, err := sqlstore.Open(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("打开 SQLite 存储失败: %w", err)
		}
		return st, nil
	case config.DriverBadger:
		bc := badgerstore.DefaultConfig(cfg.BadgerDir)
		bc.SyncWrites = cfg.SyncWrites
		bc.GCInterval = time.Duration(cfg.GCIntervalSec) * time.Second
		bc.Logger = slog.Default().With("component", "badger")
		st, err := badgerstore.Open(bc)
		if err != nil {
			return nil, fmt.Errorf("打开 badger 存储失败: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("未知存储后端: %s", cfg.Driver)
	}
}

// RequireWritable 安全模式下拒绝写操作
func (c *Core) RequireWritable() error {
	if c.SafeMode {
		return fmt.Errorf("安全模式下禁止写入: %s", c.SafeModeReason)
	}
	return nil
}

// Close 关闭核心依赖资源
func (c *Core) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}
