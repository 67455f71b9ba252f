package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// migrateCmd 迁移命令。迁移已在启动时执行，这里输出本次启动的结果
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "执行待处理的 schema 迁移并输出结果",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := printJSON(cmd, core.Migration); err != nil {
				return err
			}
			if !core.Migration.Success {
				return fmt.Errorf("迁移失败: %v", core.Migration.Err)
			}
			return nil
		},
	}
}

// statusCmd 迁移状态与存档完整性
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "显示 schema 版本、待处理迁移与存档完整性",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := core.Migrations.GetMigrationStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"safeMode":       core.SafeMode,
				"safeModeReason": core.SafeModeReason,
				"driver":         core.Cfg.Storage.Driver,
				"migration":      st,
				"integrity":      core.Migrations.ValidateMigrationState(ctx),
			})
		},
	}
}

// backupCmd 迁移备份
func backupCmd() *cobra.Command {
	var list bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "创建迁移备份（--list 列出已有备份）",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if list {
				backups, err := core.Migrations.ListMigrationBackups(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, backups)
			}
			result := core.Migrations.CreateMigrationBackup(ctx)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Success {
				return result.Err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&list, "list", false, "列出已有备份")
	return cmd
}

// restoreCmd 从备份恢复；安全模式下也允许执行
func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backupId>",
		Short: "用迁移备份替换全部存档与元数据",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := core.Migrations.RestoreMigrationBackup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ 已从 %s 恢复 %d 条存档\n", args[0], n)
			return nil
		},
	}
}

// statsCmd 存储统计
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "显示各表行数",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := core.Repos.Saves.GetDatabaseStats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

// clearCmd 清除数据
func clearCmd() *cobra.Command {
	var profileID string
	var all bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "清除单个 profile（--profile）或全部数据（--all）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWritable(); err != nil {
				return err
			}
			ctx := cmd.Context()
			switch {
			case profileID != "":
				if err := core.Repos.Saves.ClearProfileData(ctx, profileID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ 已清除 profile %s\n", profileID)
			case all:
				if err := core.Repos.Saves.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✅ 已清空全部数据")
			default:
				return fmt.Errorf("需要 --profile 或 --all")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&profileID, "profile", "p", "", "要清除的 profile")
	cmd.Flags().BoolVar(&all, "all", false, "清空全部表")
	return cmd
}

// logsCmd 日志表维护
func logsCmd() *cobra.Command {
	var days int
	var date string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "显示日志条数；--date 查看某天日志，--prune-days 删除旧日志",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if date != "" {
				rows, err := core.Repos.Logs.GetByDay(ctx, date)
				if err != nil {
					return err
				}
				return printJSON(cmd, rows)
			}
			if days > 0 {
				if err := requireWritable(); err != nil {
					return err
				}
				n, err := core.Repos.Logs.DeleteOlderThan(ctx, days)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ 已删除 %d 条 %d 天前的日志\n", n, days)
				return nil
			}
			n, err := core.Repos.Logs.Count(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]int64{"totalLogs": n})
		},
	}

	cmd.Flags().IntVar(&days, "prune-days", 0, "删除早于 N 天的日志")
	cmd.Flags().StringVar(&date, "date", "", "查看指定日期的日志 (YYYY-MM-DD)")
	return cmd
}
