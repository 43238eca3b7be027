package capacity

import (
	"time"

	"github.com/Tsukikage7/gather/database"
)

// Participation 参与记录.
//
// (ResourceID, ParticipantID) 为复合主键，一对资源/参与者最多一行；
// 行的存在与软删除状态共同编码成员关系.
type Participation struct {
	ResourceID    uint64 `gorm:"primaryKey;autoIncrement:false"`
	ParticipantID uint64 `gorm:"primaryKey;autoIncrement:false"`

	Role     Role      `gorm:"column:role;size:16"`
	JoinedAt time.Time `gorm:"column:joined_at"`

	database.BaseModel
}

// TableName 指定表名.
func (Participation) TableName() string { return "participations" }

// IsOwner 报告该参与者是否为负责人.
func (p *Participation) IsOwner() bool {
	return p.Role == RoleOwner
}
