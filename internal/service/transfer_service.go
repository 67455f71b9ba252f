package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/eventbus"
	"github.com/yuqie6/SaveVault/internal/repository"
	"github.com/yuqie6/SaveVault/internal/schema"
	"golang.org/x/sync/errgroup"
)

// ErrProfileNotFound 指定 profile 没有可用的活动存档
var ErrProfileNotFound = errors.New("profile 不存在")

// exportReadConcurrency 导出时并行读取活动存档的上限
const exportReadConcurrency = 4

// ImportDetails 导入明细
type ImportDetails struct {
	TotalProfiles   int      `json:"totalProfiles"`
	ValidProfiles   int      `json:"validProfiles"`
	InvalidProfiles []string `json:"invalidProfiles"`
}

// ImportResult 导入结果
type ImportResult struct {
	Success          bool          `json:"success"`
	ImportedProfiles int           `json:"importedProfiles"`
	Errors           []string      `json:"errors"`
	Details          ImportDetails `json:"details"`
}

// ValidationDetails 导出文件预检明细
type ValidationDetails struct {
	FileVersion *int64   `json:"fileVersion"`
	ExportedAt  *int64   `json:"exportedAt"`
	Profiles    int      `json:"totalProfiles"`
	ProfileIDs  []string `json:"profileIds"`
}

// ValidationReport 导出文件预检报告（不写入存储）
type ValidationReport struct {
	IsValid bool              `json:"isValid"`
	Errors  []string          `json:"errors"`
	Details ValidationDetails `json:"details"`
}

// TransferService 导出/导入服务
type TransferService struct {
	saves SaveRepository
	hub   *eventbus.Hub
	now   func() time.Time
}

// NewTransferService 创建导出/导入服务；hub 可为 nil
func NewTransferService(saves SaveRepository, hub *eventbus.Hub) *TransferService {
	return &TransferService{saves: saves, hub: hub, now: time.Now}
}

// ExportAllProfiles 收集每个 profile 的活动存档并合并为一个导出信封。
// 每个 profile 取自它自己的活动行；设置取自最新的活动行；空库导出默认设置与空 profiles。
func (s *TransferService) ExportAllProfiles(ctx context.Context) (*schema.ExportFile, error) {
	ids, err := s.saves.GetAllProfileIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("导出失败: %w", err)
	}

	rows := make([]*schema.SaveRow, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exportReadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			row, err := s.saves.GetActiveSave(gctx, id)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("导出失败: %w", err)
	}

	profiles := make([]schema.Profile, 0, len(ids))
	settings := schema.DefaultSettings()
	var newest int64 = -1
	for i, row := range rows {
		if row == nil || row.Data == nil {
			continue
		}
		p, ok := row.Data.FindProfile(ids[i])
		if !ok {
			slog.Warn("活动存档中找不到对应 profile，跳过", "profile_id", ids[i], "save_id", row.ID)
			continue
		}
		profiles = append(profiles, *p)
		if row.CreatedAt > newest {
			newest = row.CreatedAt
			settings = row.Data.Settings
		}
	}

	if len(profiles) > schema.MaxProfiles {
		return nil, &schema.ValidationError{Entity: "ExportData", Violations: []schema.Violation{{
			Path:   "profiles",
			Reason: fmt.Sprintf("must contain at most %d profiles (store holds %d)", schema.MaxProfiles, len(profiles)),
		}}}
	}

	env, err := codec.EncodeEnvelopeAt(schema.NewSave(profiles, settings), s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("导出失败: %w", err)
	}
	slog.Info("导出完成", "profiles", len(profiles))
	return env, nil
}

// ExportAllProfilesToBlob 导出为带 JSON 标记的字节
func (s *TransferService) ExportAllProfilesToBlob(ctx context.Context) (*codec.Blob, error) {
	env, err := s.ExportAllProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return codec.ToBlob(env)
}

// ExportProfile 导出单个 profile（保留它所在存档的设置）
func (s *TransferService) ExportProfile(ctx context.Context, profileID string) (*schema.ExportFile, error) {
	row, err := s.saves.GetActiveSave(ctx, profileID)
	if err != nil {
		return nil, fmt.Errorf("导出 profile 失败: %w", err)
	}
	if row == nil || row.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, profileID)
	}
	p, ok := row.Data.FindProfile(profileID)
	if !ok {
		return nil, fmt.Errorf("%w: %s 不在活动存档中", ErrProfileNotFound, profileID)
	}
	env, err := codec.EncodeEnvelopeAt(schema.NewSave([]schema.Profile{*p}, row.Data.Settings), s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("导出 profile 失败: %w", err)
	}
	return env, nil
}

// ImportFromBlob 依次校验 解析 → fileVersion → 校验和 → 存档结构，全部通过后才写入。
// 每个 profile 以自己的 ID 保存整份合并存档。校验失败时存储保持不变并返回对应的类型化错误。
func (s *TransferService) ImportFromBlob(ctx context.Context, blob *codec.Blob) (*ImportResult, error) {
	result := &ImportResult{Errors: []string{}, Details: ImportDetails{InvalidProfiles: []string{}}}
	if blob == nil {
		err := fmt.Errorf("%w: blob is nil", codec.ErrMalformed)
		result.Errors = append(result.Errors, "导入失败: "+err.Error())
		return result, err
	}

	env, err := codec.DecodeEnvelope(blob.Data)
	if err != nil {
		slog.Warn("导入文件校验失败", "error", err)
		result.Errors = append(result.Errors, "导入失败: "+err.Error())
		return result, err
	}

	merged := env.Data
	result.Details.TotalProfiles = len(merged.Profiles)
	if len(merged.Profiles) == 0 {
		result.Success = true
		return result, nil
	}
	// 导入写入的是存档行，必须满足 1~6 个 profile
	if err := schema.ValidateSave(&merged); err != nil {
		result.Errors = append(result.Errors, "导入失败: "+err.Error())
		return result, err
	}
	sum, err := codec.Fingerprint(merged)
	if err != nil {
		result.Errors = append(result.Errors, "导入失败: "+err.Error())
		return result, err
	}

	var errs []error
	for _, p := range merged.Profiles {
		data := merged.Clone()
		if _, err := s.saves.PutSaveAtomic(ctx, p.ID, &data, &repository.PutOptions{Checksum: sum}); err != nil {
			msg := fmt.Sprintf("导入 profile %s 失败: %v", p.ID, err)
			slog.Error("导入 profile 失败", "profile_id", p.ID, "error", err)
			result.Errors = append(result.Errors, msg)
			result.Details.InvalidProfiles = append(result.Details.InvalidProfiles, p.ID)
			errs = append(errs, fmt.Errorf("导入 profile %s 失败: %w", p.ID, err))
			continue
		}
		result.ImportedProfiles++
	}
	result.Details.ValidProfiles = result.ImportedProfiles
	result.Success = result.ImportedProfiles > 0
	if result.ImportedProfiles == 0 {
		result.Errors = append(result.Errors, "没有成功导入任何 profile")
	}

	if result.ImportedProfiles > 0 {
		s.hub.Publish(eventbus.Event{
			Type: eventbus.TypeImportCompleted,
			Data: map[string]any{"imported": result.ImportedProfiles, "total": result.Details.TotalProfiles},
		})
	}
	slog.Info("导入完成", "imported", result.ImportedProfiles, "total", result.Details.TotalProfiles)
	return result, errors.Join(errs...)
}

// ImportFromJSON 从 JSON 字符串导入
func (s *TransferService) ImportFromJSON(ctx context.Context, raw string) (*ImportResult, error) {
	return s.ImportFromBlob(ctx, &codec.Blob{ContentType: codec.ContentTypeJSON, Data: []byte(raw)})
}

// ValidateExportBlob 预检导出文件，不写入存储
func (s *TransferService) ValidateExportBlob(blob *codec.Blob) ValidationReport {
	report := ValidationReport{Errors: []string{}, Details: ValidationDetails{ProfileIDs: []string{}}}
	if blob == nil {
		report.Errors = append(report.Errors, "校验失败: blob is nil")
		return report
	}
	env, err := codec.DecodeEnvelope(blob.Data)
	if err != nil {
		report.Errors = append(report.Errors, "校验失败: "+err.Error())
		return report
	}

	fileVersion := int64(env.FileVersion)
	exportedAt := env.ExportedAt
	report.IsValid = true
	report.Details.FileVersion = &fileVersion
	report.Details.ExportedAt = &exportedAt
	report.Details.Profiles = len(env.Data.Profiles)
	for _, p := range env.Data.Profiles {
		report.Details.ProfileIDs = append(report.Details.ProfileIDs, p.ID)
	}
	return report
}
