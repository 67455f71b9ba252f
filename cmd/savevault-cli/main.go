package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/yuqie6/SaveVault/internal/bootstrap"
	"github.com/yuqie6/SaveVault/internal/pkg/buildinfo"
	"github.com/yuqie6/SaveVault/internal/pkg/config"
)

// skipCore 标注不需要打开存储的子命令
const skipCore = "skip-core"

var (
	cfgFile string
	core    *bootstrap.Core
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "savevault",
		Short:         "SaveVault - 本地存档持久化工具",
		Long:          `SaveVault 管理本地游戏存档：带历史的原子写入、可校验的导出/导入、schema 迁移与备份。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipCore] == "true" {
				return nil
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			// 日志走 stderr，stdout 只输出结果
			config.SetupLoggerTo(os.Stderr, cfg.App.LogLevel)

			core, err = bootstrap.NewCoreFromConfig(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("初始化存储失败: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if core != nil {
				if err := core.Close(); err != nil {
					slog.Warn("关闭存储失败", "error", err)
				}
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置文件路径")

	// 添加子命令
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(restoreCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(clearCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		if core != nil {
			_ = core.Close()
		}
		os.Exit(1)
	}
}

// versionCmd 版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "显示版本",
		Annotations: map[string]string{skipCore: "true"},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "savevault %s\n", buildinfo.String())
		},
	}
}

// printJSON 以缩进 JSON 输出到 stdout
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("输出 JSON 失败: %w", err)
	}
	return nil
}

// requireWritable 安全模式下拒绝写命令
func requireWritable() error {
	if err := core.RequireWritable(); err != nil {
		return fmt.Errorf("%w（请先执行 status 查看迁移状态，或用 restore 恢复备份）", err)
	}
	return nil
}
