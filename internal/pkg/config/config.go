package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// 存储后端
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Config 应用配置
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Storage StorageConfig `mapstructure:"storage"`
	Saves   SavesConfig   `mapstructure:"saves"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name" validate:"required"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver        string `mapstructure:"driver" validate:"oneof=sqlite badger"`
	DBPath        string `mapstructure:"db_path" validate:"required_if=Driver sqlite"`
	BadgerDir     string `mapstructure:"badger_dir" validate:"required_if=Driver badger"`
	SyncWrites    bool   `mapstructure:"sync_writes"`
	GCIntervalSec int    `mapstructure:"gc_interval_sec" validate:"gte=0"`
}

// SavesConfig 存档历史配置
type SavesConfig struct {
	KeepCount int `mapstructure:"keep_count" validate:"gte=1,lte=100"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load 加载配置文件；configPath 为空时按默认路径查找，找不到则使用默认配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 支持环境变量，例如 SAVEVAULT_STORAGE_DRIVER=badger
	v.SetEnvPrefix("SAVEVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			slog.Warn("配置文件未找到，使用默认配置")
		} else {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	} else {
		slog.Info("加载配置文件", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.App.LogLevel = strings.ToLower(strings.TrimSpace(cfg.App.LogLevel))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	// 处理相对路径
	cfg.Storage.DBPath = resolvePath(cfg.Storage.DBPath)
	cfg.Storage.BadgerDir = resolvePath(cfg.Storage.BadgerDir)

	return &cfg, nil
}

// Validate 校验配置取值
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("cfg 不能为空")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			parts := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				parts = append(parts, fmt.Sprintf("%s(%s=%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("配置校验失败: %s", strings.Join(parts, "; "))
		}
		return fmt.Errorf("配置校验失败: %w", err)
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// App
	v.SetDefault("app.name", "savevault")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.log_level", "info")

	// Storage
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.db_path", "./data/savevault.db")
	v.SetDefault("storage.badger_dir", "./data/badger")
	v.SetDefault("storage.sync_writes", true)
	v.SetDefault("storage.gc_interval_sec", 600)

	// Saves
	v.SetDefault("saves.keep_count", 3)
}

// resolvePath 解析相对路径为可执行文件目录下的绝对路径
func resolvePath(path string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}

	exe, err := os.Executable()
	if err != nil {
		return path
	}

	exeDir := filepath.Dir(exe)
	return filepath.Join(exeDir, path)
}

// ParseLevel 把配置中的日志级别转换为 slog.Level，未知取值按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger 根据配置设置日志级别，输出到 stdout
func SetupLogger(level string) {
	SetupLoggerTo(os.Stdout, level)
}

// SetupLoggerTo 同 SetupLogger，输出到 w；CLI 用 stderr 以免混入导出内容
func SetupLoggerTo(w io.Writer, level string) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}
