package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/yuqie6/SaveVault/internal/schema"
)

// ContentTypeJSON 导出文件的内容类型
const ContentTypeJSON = "application/json"

// Blob 带内容类型标记的导出字节
type Blob struct {
	ContentType string
	Data        []byte
}

// EncodeEnvelope 用当前时间构造导出信封并计算指纹
func EncodeEnvelope(save schema.Save) (*schema.ExportFile, error) {
	return EncodeEnvelopeAt(save, time.Now().UnixMilli())
}

// EncodeEnvelopeAt 指定导出时间构造信封
func EncodeEnvelopeAt(save schema.Save, exportedAt int64) (*schema.ExportFile, error) {
	data := save.Clone()
	raw, err := schema.ToGeneric(data)
	if err != nil {
		return nil, fmt.Errorf("序列化存档失败: %w", err)
	}
	if _, err := schema.DecodeExportData(raw); err != nil {
		return nil, err
	}
	sum, err := fingerprintGeneric(raw)
	if err != nil {
		return nil, err
	}
	return &schema.ExportFile{
		FileVersion: schema.ExportFileVersion,
		ExportedAt:  exportedAt,
		Checksum:    sum,
		Data:        data,
	}, nil
}

// ValidateEnvelope 先检查文件版本，再用 data 重新计算指纹并逐字节比对
func ValidateEnvelope(env *schema.ExportFile) error {
	if env == nil {
		return fmt.Errorf("envelope is nil")
	}
	if env.FileVersion != schema.ExportFileVersion {
		return &VersionMismatchError{Field: "fileVersion", Got: int64(env.FileVersion), Want: schema.ExportFileVersion}
	}
	actual, err := Fingerprint(env.Data)
	if err != nil {
		return err
	}
	if actual != env.Checksum {
		return &ChecksumMismatchError{Expected: env.Checksum, Actual: actual}
	}
	return nil
}

// Marshal 序列化信封（带缩进，便于人工查看）
func Marshal(env *schema.ExportFile) ([]byte, error) {
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化导出文件失败: %w", err)
	}
	return b, nil
}

// ToBlob 序列化为带 JSON 标记的 Blob
func ToBlob(env *schema.ExportFile) (*Blob, error) {
	b, err := Marshal(env)
	if err != nil {
		return nil, err
	}
	return &Blob{ContentType: ContentTypeJSON, Data: b}, nil
}

// ParseEnvelope 解析字节并校验信封形状；不判断版本与校验和
func ParseEnvelope(b []byte) (schema.EnvelopeHeader, error) {
	raw, err := schema.ParseJSON(b)
	if err != nil {
		return schema.EnvelopeHeader{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return schema.DecodeEnvelopeHeader(raw)
}

// DecodeEnvelope 按固定顺序完整校验导出文件：
// 解析 → fileVersion → 校验和（基于文件中的原始 data）→ 存档结构
func DecodeEnvelope(b []byte) (*schema.ExportFile, error) {
	h, err := ParseEnvelope(b)
	if err != nil {
		return nil, err
	}
	if h.FileVersion != schema.ExportFileVersion {
		return nil, &VersionMismatchError{Field: "fileVersion", Got: h.FileVersion, Want: schema.ExportFileVersion}
	}
	actual, err := fingerprintGeneric(h.Data)
	if err != nil {
		return nil, err
	}
	if actual != h.Checksum {
		return nil, &ChecksumMismatchError{Expected: h.Checksum, Actual: actual}
	}
	data, err := schema.DecodeExportData(h.Data)
	if err != nil {
		return nil, err
	}
	return &schema.ExportFile{
		FileVersion: int(h.FileVersion),
		ExportedAt:  h.ExportedAt,
		Checksum:    h.Checksum,
		Data:        data,
	}, nil
}
