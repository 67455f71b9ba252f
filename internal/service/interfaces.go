package service

import (
	"context"

	"github.com/yuqie6/SaveVault/internal/repository"
	"github.com/yuqie6/SaveVault/internal/schema"
)

// 仓储的最小接口集合（ISP）

type SaveRepository interface {
	PutSaveAtomic(ctx context.Context, profileID string, save *schema.Save, opts *repository.PutOptions) (int64, error)
	GetActiveSave(ctx context.Context, profileID string) (*schema.SaveRow, error)
	GetAllProfileIDs(ctx context.Context) ([]string, error)
}

var _ SaveRepository = (*repository.SaveRepository)(nil)
