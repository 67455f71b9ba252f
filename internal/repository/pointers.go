package repository

import (
	"encoding/json"
	"log/slog"

	"github.com/yuqie6/SaveVault/internal/store"
)

// MetaKeyProfilePointers 指针记录：profileId -> 当前活动存档行 ID
const MetaKeyProfilePointers = "profile_pointers"

type pointers map[string]int64

// loadPointers 读取指针记录；缺失或无法解析时返回空表（后续读取会回退到最新的完好行）
func loadPointers(tx store.Tx) (pointers, error) {
	rec, err := tx.Meta().Get(MetaKeyProfilePointers)
	if err != nil {
		return nil, err
	}
	out := pointers{}
	if rec == nil || rec.Value == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(rec.Value), &out); err != nil {
		slog.Warn("指针记录无法解析，按空表处理", "error", err)
		return pointers{}, nil
	}
	return out, nil
}

func savePointers(tx store.Tx, p pointers, now int64) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.Meta().Put(store.MetaRecord{Key: MetaKeyProfilePointers, Value: string(b), UpdatedAt: now})
}
