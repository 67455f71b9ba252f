package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// 校验器基于解码后的 JSON 值（map[string]any / []any / json.Number）逐字段判断，
// 这样缺失字段与零值可以区分（例如缺失 sim 与 sim 全为 0）。

type decoder struct {
	violations []Violation
	version    *VersionMismatchError
}

func (d *decoder) missing(path string) {
	d.violations = append(d.violations, Violation{Path: path, Reason: reasonRequired, Missing: true})
}

func (d *decoder) invalid(path, reason string) {
	d.violations = append(d.violations, Violation{Path: path, Reason: reason})
}

func (d *decoder) err(entity string) error {
	if len(d.violations) == 0 {
		return nil
	}
	return &ValidationError{Entity: entity, Violations: d.violations, Version: d.version}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func index(path string, i int) string {
	return fmt.Sprintf("%s[%d]", path, i)
}

func (d *decoder) field(m map[string]any, key, path string) (any, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		d.missing(join(path, key))
		return nil, false
	}
	return raw, true
}

func (d *decoder) object(m map[string]any, key, path string) (map[string]any, bool) {
	raw, ok := d.field(m, key, path)
	if !ok {
		return nil, false
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		d.invalid(join(path, key), "must be an object")
		return nil, false
	}
	return obj, true
}

// toInt64 把 JSON 数字转换为整数；ok=false 时 reason 说明原因
func toInt64(raw any) (n int64, reason string, ok bool) {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, "", true
		}
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil {
			return 0, "must be a number", false
		}
		return toInt64(f)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, "must be an integer", false
		}
		if v > math.MaxInt64 || v < math.MinInt64 {
			return 0, "is out of range", false
		}
		return int64(v), "", true
	case int:
		return int64(v), "", true
	case int64:
		return v, "", true
	default:
		return 0, "must be a number", false
	}
}

func (d *decoder) integer(m map[string]any, key, path string) (int64, bool) {
	raw, ok := d.field(m, key, path)
	if !ok {
		return 0, false
	}
	n, reason, ok := toInt64(raw)
	if !ok {
		d.invalid(join(path, key), reason)
		return 0, false
	}
	return n, true
}

func (d *decoder) nonNegative(m map[string]any, key, path string) int64 {
	n, ok := d.integer(m, key, path)
	if !ok {
		return 0
	}
	if n < 0 {
		d.invalid(join(path, key), "must be a non-negative integer")
		return 0
	}
	return n
}

// literal 要求整数字段等于 want；第二个返回值表示字段是整数但取值不同
func (d *decoder) literal(m map[string]any, key, path string, want int64) (int, bool) {
	n, ok := d.integer(m, key, path)
	if !ok {
		return 0, false
	}
	if n != want {
		d.invalid(join(path, key), fmt.Sprintf("must be %d", want))
		return int(n), true
	}
	return int(n), false
}

func (d *decoder) str(m map[string]any, key, path string, minLen, maxLen int) string {
	raw, ok := d.field(m, key, path)
	if !ok {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		d.invalid(join(path, key), "must be a string")
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n < minLen {
		if minLen == 1 {
			d.invalid(join(path, key), "must not be empty")
		} else {
			d.invalid(join(path, key), fmt.Sprintf("must be at least %d characters", minLen))
		}
	}
	if maxLen > 0 && n > maxLen {
		d.invalid(join(path, key), fmt.Sprintf("must be at most %d characters", maxLen))
	}
	return s
}

func (d *decoder) optionalStr(m map[string]any, key, path string) string {
	raw, ok := m[key]
	if !ok || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		d.invalid(join(path, key), "must be a string")
		return ""
	}
	if s == "" {
		d.invalid(join(path, key), "must not be empty")
	}
	return s
}

func (d *decoder) boolean(m map[string]any, key, path string) bool {
	raw, ok := d.field(m, key, path)
	if !ok {
		return false
	}
	b, ok := raw.(bool)
	if !ok {
		d.invalid(join(path, key), "must be a boolean")
	}
	return b
}

func (d *decoder) profile(raw any, path string) Profile {
	m, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			d.missing(path)
		} else {
			d.invalid(path, "must be an object")
		}
		return Profile{}
	}

	p := Profile{
		ID:         d.str(m, "id", path, 1, 0),
		Name:       d.str(m, "name", path, 1, MaxNameLength),
		CreatedAt:  d.nonNegative(m, "createdAt", path),
		LastActive: d.nonNegative(m, "lastActive", path),
	}
	if o, ok := d.object(m, "progress", path); ok {
		sub := join(path, "progress")
		p.Progress = Progress{
			Land:      d.nonNegative(o, "land", sub),
			Ward:      d.nonNegative(o, "ward", sub),
			DistanceM: d.nonNegative(o, "distanceM", sub),
		}
	}
	if o, ok := d.object(m, "currencies", path); ok {
		sub := join(path, "currencies")
		p.Currencies = Currencies{
			Arcana: d.nonNegative(o, "arcana", sub),
			Gold:   d.nonNegative(o, "gold", sub),
		}
	}
	if o, ok := d.object(m, "enchants", path); ok {
		sub := join(path, "enchants")
		p.Enchants = Enchants{
			Firepower: d.nonNegative(o, "firepower", sub),
			Scales:    d.nonNegative(o, "scales", sub),
			Tier:      d.nonNegative(o, "tier", sub),
		}
	}
	if o, ok := d.object(m, "stats", path); ok {
		sub := join(path, "stats")
		p.Stats = Stats{
			PlaytimeS:      d.nonNegative(o, "playtimeS", sub),
			Deaths:         d.nonNegative(o, "deaths", sub),
			TotalDistanceM: d.nonNegative(o, "totalDistanceM", sub),
		}
	}
	if o, ok := d.object(m, "leaderboard", path); ok {
		sub := join(path, "leaderboard")
		p.Leaderboard = Leaderboard{
			HighestWard:  d.nonNegative(o, "highestWard", sub),
			FastestBossS: d.nonNegative(o, "fastestBossS", sub),
		}
	}
	if o, ok := d.object(m, "sim", path); ok {
		sub := join(path, "sim")
		p.Sim = SimClock{
			LastSimWallClock: d.nonNegative(o, "lastSimWallClock", sub),
			BgCoveredMs:      d.nonNegative(o, "bgCoveredMs", sub),
		}
	}
	return p
}

func (d *decoder) save(raw any, path string, minProfiles int) Save {
	m, ok := raw.(map[string]any)
	if !ok {
		if raw == nil {
			d.missing(path)
		} else {
			d.invalid(path, "must be an object")
		}
		return Save{}
	}

	version, mismatch := d.literal(m, "version", path, SaveVersion)
	if mismatch {
		d.version = &VersionMismatchError{Field: join(path, "version"), Got: int64(version), Want: SaveVersion}
	}
	s := Save{Version: version}

	if rawProfiles, ok := d.field(m, "profiles", path); ok {
		list, ok := rawProfiles.([]any)
		if !ok {
			d.invalid(join(path, "profiles"), "must be an array")
		} else {
			if len(list) < minProfiles {
				d.invalid(join(path, "profiles"), fmt.Sprintf("must contain at least %d profile(s)", minProfiles))
			}
			if len(list) > MaxProfiles {
				d.invalid(join(path, "profiles"), fmt.Sprintf("must contain at most %d profiles", MaxProfiles))
			}
			s.Profiles = make([]Profile, 0, len(list))
			for i, item := range list {
				s.Profiles = append(s.Profiles, d.profile(item, index(join(path, "profiles"), i)))
			}
		}
	}

	if o, ok := d.object(m, "settings", path); ok {
		s.Settings = Settings{A11yReducedMotion: d.boolean(o, "a11yReducedMotion", join(path, "settings"))}
	}
	return s
}

// ParseJSON 以 UseNumber 解码 JSON，保证整数精度并能区分 1 与 1.5
func ParseJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("unexpected trailing data")
	}
	return v, nil
}

// ToGeneric 把任意可序列化值转为解码后的 JSON 值
func ToGeneric(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return ParseJSON(b)
}

// DecodeSave 校验并规范化存档（1~6 个 profile）
func DecodeSave(raw any) (Save, error) {
	d := &decoder{}
	s := d.save(raw, "", MinProfiles)
	return s, d.err("Save")
}

// DecodeExportData 校验导出信封中的存档；空库导出允许 0 个 profile
func DecodeExportData(raw any) (Save, error) {
	d := &decoder{}
	s := d.save(raw, "", 0)
	return s, d.err("ExportData")
}

// DecodeSaveJSON 从原始 JSON 字节校验存档
func DecodeSaveJSON(b []byte) (Save, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return Save{}, &ValidationError{Entity: "Save", Violations: []Violation{{Reason: "data " + reasonRequired, Missing: true}}}
	}
	raw, err := ParseJSON(b)
	if err != nil {
		return Save{}, &ValidationError{Entity: "Save", Violations: []Violation{{Reason: "is not valid JSON: " + err.Error()}}}
	}
	if raw == nil {
		return Save{}, &ValidationError{Entity: "Save", Violations: []Violation{{Reason: "data " + reasonRequired, Missing: true}}}
	}
	return DecodeSave(raw)
}

// DecodeProfile 校验单个 profile
func DecodeProfile(raw any) (Profile, error) {
	d := &decoder{}
	p := d.profile(raw, "")
	return p, d.err("Profile")
}

// ValidateSave 校验已是强类型的存档，规则与 DecodeSave 完全一致
func ValidateSave(s *Save) error {
	if s == nil {
		return &ValidationError{Entity: "Save", Violations: []Violation{{Reason: "save " + reasonRequired, Missing: true}}}
	}
	raw, err := ToGeneric(s)
	if err != nil {
		return fmt.Errorf("序列化存档失败: %w", err)
	}
	_, err = DecodeSave(raw)
	return err
}

// ValidateProfile 校验强类型 profile
func ValidateProfile(p *Profile) error {
	if p == nil {
		return &ValidationError{Entity: "Profile", Violations: []Violation{{Reason: "profile " + reasonRequired, Missing: true}}}
	}
	raw, err := ToGeneric(p)
	if err != nil {
		return fmt.Errorf("序列化 profile 失败: %w", err)
	}
	_, err = DecodeProfile(raw)
	return err
}

// DecodeSaveRow 校验存档行
func DecodeSaveRow(raw any) (SaveRow, error) {
	d := &decoder{}
	m, ok := raw.(map[string]any)
	if !ok {
		d.invalid("", "must be an object")
		return SaveRow{}, d.err("SaveRow")
	}
	rowVersion, _ := d.literal(m, "version", "", SaveVersion)
	row := SaveRow{
		ProfileID: d.str(m, "profileId", "", 1, 0),
		Version:   rowVersion,
		CreatedAt: d.nonNegative(m, "createdAt", ""),
		Checksum:  d.str(m, "checksum", "", 1, 0),
	}
	if rawID, ok := m["id"]; ok && rawID != nil {
		id, reason, ok := toInt64(rawID)
		switch {
		case !ok:
			d.invalid("id", reason)
		case id <= 0:
			d.invalid("id", "must be a positive integer")
		default:
			row.ID = id
		}
	}
	if rawData, ok := d.field(m, "data", ""); ok {
		s := d.save(rawData, "data", MinProfiles)
		row.Data = &s
	}
	return row, d.err("SaveRow")
}

// DecodeMetaRow 校验元数据行
func DecodeMetaRow(raw any) (MetaRow, error) {
	d := &decoder{}
	m, ok := raw.(map[string]any)
	if !ok {
		d.invalid("", "must be an object")
		return MetaRow{}, d.err("MetaRow")
	}
	row := MetaRow{
		Key:       d.str(m, "key", "", 1, 0),
		UpdatedAt: d.nonNegative(m, "updatedAt", ""),
	}
	if rawValue, ok := d.field(m, "value", ""); ok {
		if s, ok := rawValue.(string); ok {
			row.Value = s
		} else {
			d.invalid("value", "must be a string")
		}
	}
	return row, d.err("MetaRow")
}

// EnvelopeHeader 导出信封的外层字段；版本与校验和的语义判断交给 codec
type EnvelopeHeader struct {
	FileVersion int64
	ExportedAt  int64
	Checksum    string
	Data        any
}

// DecodeEnvelopeHeader 只校验信封形状，不判断 fileVersion 取值与存档内容
func DecodeEnvelopeHeader(raw any) (EnvelopeHeader, error) {
	d := &decoder{}
	m, ok := raw.(map[string]any)
	if !ok {
		d.invalid("", "must be an object")
		return EnvelopeHeader{}, d.err("ExportFile")
	}
	h := EnvelopeHeader{}
	h.FileVersion, _ = d.integer(m, "fileVersion", "")
	h.ExportedAt = d.nonNegative(m, "exportedAt", "")
	if rawSum, ok := d.field(m, "checksum", ""); ok {
		if s, ok := rawSum.(string); ok {
			h.Checksum = s
		} else {
			d.invalid("checksum", "must be a string")
		}
	}
	if rawData, ok := d.field(m, "data", ""); ok {
		if _, ok := rawData.(map[string]any); ok {
			h.Data = rawData
		} else {
			d.invalid("data", "must be an object")
		}
	}
	return h, d.err("ExportFile")
}

// DecodeExportFile 完整校验导出文件（不含校验和比对）
func DecodeExportFile(raw any) (ExportFile, error) {
	h, err := DecodeEnvelopeHeader(raw)
	if err != nil {
		return ExportFile{}, err
	}
	d := &decoder{}
	if h.FileVersion != ExportFileVersion {
		d.invalid("fileVersion", fmt.Sprintf("must be %d", ExportFileVersion))
	}
	if h.Checksum == "" {
		d.invalid("checksum", "must not be empty")
	}
	data := d.save(h.Data, "data", 0)
	return ExportFile{
		FileVersion: int(h.FileVersion),
		ExportedAt:  h.ExportedAt,
		Checksum:    h.Checksum,
		Data:        data,
	}, d.err("ExportFile")
}
