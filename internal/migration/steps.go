package migration

import (
	"sort"

	"github.com/yuqie6/SaveVault/internal/codec"
	"github.com/yuqie6/SaveVault/internal/schema"
	"github.com/yuqie6/SaveVault/internal/store"
)

// BaseVersion 没有 schema_version 记录时的版本
const BaseVersion = 1

// Step 一个版本升级步骤。Migrate 逐行调用；返回 true 表示行已被修改并需要写回。
// 同一步骤的所有行在一个事务内处理，任一行失败则整步回滚。
type Step struct {
	Version int
	Name    string
	Migrate func(rec *store.SaveRecord) (bool, error)
}

// DefaultSteps 内置的升级步骤
func DefaultSteps() []Step {
	return []Step{
		{Version: 2, Name: "backfill_row_checksums", Migrate: backfillChecksum},
	}
}

// backfillChecksum 为旧版本缺失或格式不对的行指纹重新计算；payload 无法解析的行留给状态检查报告
func backfillChecksum(rec *store.SaveRecord) (bool, error) {
	if codec.IsFingerprint(rec.Checksum) {
		return false, nil
	}
	if _, err := schema.ParseJSON(rec.Data); err != nil {
		return false, nil
	}
	sum, err := codec.FingerprintJSON(rec.Data)
	if err != nil {
		return false, err
	}
	rec.Checksum = sum
	return true, nil
}

func sortSteps(steps []Step) []Step {
	out := append([]Step(nil), steps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}
