package schema

import (
	"time"

	"github.com/google/uuid"
)

const (
	// SaveVersion 当前存档结构版本（固定字面量）
	SaveVersion = 1
	// ExportFileVersion 导出文件格式版本
	ExportFileVersion = 1

	MinProfiles   = 1
	MaxProfiles   = 6
	MaxNameLength = 50
)

// Progress 关卡进度
type Progress struct {
	Land      int64 `json:"land"`
	Ward      int64 `json:"ward"`
	DistanceM int64 `json:"distanceM"`
}

// Currencies 货币
type Currencies struct {
	Arcana int64 `json:"arcana"`
	Gold   int64 `json:"gold"`
}

// Enchants 附魔等级
type Enchants struct {
	Firepower int64 `json:"firepower"`
	Scales    int64 `json:"scales"`
	Tier      int64 `json:"tier"`
}

// Stats 累计统计
type Stats struct {
	PlaytimeS      int64 `json:"playtimeS"`
	Deaths         int64 `json:"deaths"`
	TotalDistanceM int64 `json:"totalDistanceM"`
}

// Leaderboard 排行榜成绩
type Leaderboard struct {
	HighestWard  int64 `json:"highestWard"`
	FastestBossS int64 `json:"fastestBossS"`
}

// SimClock 后台时间对账字段，离线收益计算依赖它避免重复计时。
// 存储/导出/导入/迁移过程中必须原样保留。
type SimClock struct {
	LastSimWallClock int64 `json:"lastSimWallClock"`
	BgCoveredMs      int64 `json:"bgCoveredMs"`
}

// Profile 单个玩家的进度
type Profile struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	CreatedAt   int64       `json:"createdAt"`  // Unix 毫秒
	LastActive  int64       `json:"lastActive"` // Unix 毫秒
	Progress    Progress    `json:"progress"`
	Currencies  Currencies  `json:"currencies"`
	Enchants    Enchants    `json:"enchants"`
	Stats       Stats       `json:"stats"`
	Leaderboard Leaderboard `json:"leaderboard"`
	Sim         SimClock    `json:"sim"`
}

// Settings 全局设置
type Settings struct {
	A11yReducedMotion bool `json:"a11yReducedMotion"`
}

// Save 版本化的存档容器（1~6 个 Profile）
type Save struct {
	Version  int       `json:"version"`
	Profiles []Profile `json:"profiles"`
	Settings Settings  `json:"settings"`
}

// SaveRow 持久化单元：某个 profile 的一次存档快照
type SaveRow struct {
	ID        int64  `json:"id,omitempty"`
	ProfileID string `json:"profileId"`
	Version   int    `json:"version"`
	Data      *Save  `json:"data"`
	CreatedAt int64  `json:"createdAt"`
	Checksum  string `json:"checksum"`
}

// MetaRow 键值元数据
type MetaRow struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updatedAt"`
}

// ExportFile 导出文件信封
type ExportFile struct {
	FileVersion int    `json:"fileVersion"`
	ExportedAt  int64  `json:"exportedAt"`
	Checksum    string `json:"checksum"`
	Data        Save   `json:"data"`
}

// DefaultSettings 空库导出时使用的默认设置
func DefaultSettings() Settings {
	return Settings{A11yReducedMotion: false}
}

// NewSave 用给定 profiles 构造当前版本的存档
func NewSave(profiles []Profile, settings Settings) Save {
	if profiles == nil {
		profiles = []Profile{}
	}
	return Save{Version: SaveVersion, Profiles: profiles, Settings: settings}
}

// NewProfile 创建一个全新的 profile（随机 ID，数值归零）
func NewProfile(name string) Profile {
	now := time.Now().UnixMilli()
	return Profile{
		ID:         uuid.NewString(),
		Name:       name,
		CreatedAt:  now,
		LastActive: now,
		Sim:        SimClock{LastSimWallClock: now},
	}
}

// FindProfile 按 ID 查找 profile
func (s *Save) FindProfile(id string) (*Profile, bool) {
	if s == nil {
		return nil, false
	}
	for i := range s.Profiles {
		if s.Profiles[i].ID == id {
			return &s.Profiles[i], true
		}
	}
	return nil, false
}

// Clone 深拷贝，避免调用方后续修改影响已持久化的数据
func (s Save) Clone() Save {
	out := s
	out.Profiles = append([]Profile(nil), s.Profiles...)
	if out.Profiles == nil {
		out.Profiles = []Profile{}
	}
	return out
}
