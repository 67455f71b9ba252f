package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/schema"
)

// readInput 读取文件；path 为 "-" 时读 stdin
func readInput(cmd *cobra.Command, path string) (*codec.Blob, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(cmd.InOrStdin())
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("读取导出文件失败: %w", err)
	}
	return &codec.Blob{ContentType: codec.ContentTypeJSON, Data: b}, nil
}

// exportCmd 导出命令
func exportCmd() *cobra.Command {
	var out string
	var profileID string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "导出全部或单个 profile 的活动存档",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				env *schema.ExportFile
				err error
			)
			if profileID != "" {
				env, err = core.Services.Transfer.ExportProfile(ctx, profileID)
			} else {
				env, err = core.Services.Transfer.ExportAllProfiles(ctx)
			}
			if err != nil {
				return err
			}
			blob, err := codec.ToBlob(env)
			if err != nil {
				return err
			}

			if out == "" || out == "-" {
				_, err := cmd.OutOrStdout().Write(append(blob.Data, '\n'))
				return err
			}
			if err := os.WriteFile(out, blob.Data, 0o600); err != nil {
				return fmt.Errorf("写入导出文件失败: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "✅ 已导出 %d 个 profile 到 %s\n", len(env.Data.Profiles), out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "输出文件（默认 stdout）")
	cmd.Flags().StringVarP(&profileID, "profile", "p", "", "只导出指定 profile")
	return cmd
}

// importCmd 导入命令
func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "校验并导入导出文件",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWritable(); err != nil {
				return err
			}
			blob, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			result, importErr := core.Services.Transfer.ImportFromBlob(cmd.Context(), blob)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			return importErr
		},
	}
}

// verifyCmd 预检命令（不写入）
func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file|->",
		Short: "预检导出文件，不写入存储",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			blob, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			report := core.Services.Transfer.ValidateExportBlob(blob)
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.IsValid {
				return fmt.Errorf("导出文件无效")
			}
			return nil
		},
	}
}

// profileCmd profile 管理
func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "profile 管理",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "列出所有 profile 及其活动存档",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids, err := core.Repos.Saves.GetAllProfileIDs(ctx)
			if err != nil {
				return err
			}
			type entry struct {
				ID      string `json:"id"`
				Name    string `json:"name,omitempty"`
				SaveID  int64  `json:"activeSaveId,omitempty"`
				Land    int64  `json:"land,omitempty"`
				Healthy bool   `json:"healthy"`
			}
			out := make([]entry, 0, len(ids))
			for _, id := range ids {
				e := entry{ID: id}
				row, err := core.Repos.Saves.GetActiveSave(ctx, id)
				if err != nil {
					return err
				}
				if row != nil && row.Data != nil {
					e.Healthy = true
					e.SaveID = row.ID
					if p, ok := row.Data.FindProfile(id); ok {
						e.Name = p.Name
						e.Land = p.Progress.Land
					}
				}
				out = append(out, e)
			}
			return printJSON(cmd, out)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "创建新 profile 并写入初始存档",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireWritable(); err != nil {
				return err
			}
			p := schema.NewProfile(args[0])
			s := schema.NewSave([]schema.Profile{p}, schema.DefaultSettings())
			id, err := core.Repos.Saves.PutSaveAtomic(cmd.Context(), p.ID, &s, nil)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"profileId": p.ID, "saveId": id})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history <profileId>",
		Short: "列出 profile 的历史存档行（新到旧）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := core.Repos.Saves.GetAllSaves(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, rows)
		},
	})

	return cmd
}
