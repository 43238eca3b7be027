package capacity

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Repository 容量资源的持久化契约.
//
// 所有带 tx 参数的方法都运行在调用方提供的事务上——
// 持锁路径传入绑定在固定连接上的事务，锁外读传入普通实例.
type Repository interface {
	// Load 加载资源. 不存在返回 ErrNotFound.
	Load(tx *gorm.DB, id uint64) (*Resource, error)

	// Save 保存资源的容量字段与状态.
	Save(tx *gorm.DB, r *Resource) error

	// SoftDelete 软删除资源（解散）.
	SoftDelete(tx *gorm.DB, r *Resource) error

	// CountActiveParticipants 统计在籍参与者数量.
	CountActiveParticipants(tx *gorm.DB, resourceID uint64) (int, error)

	// GetParticipation 查询参与记录. 不存在返回 (nil, nil).
	GetParticipation(tx *gorm.DB, resourceID, participantID uint64) (*Participation, error)

	// UpsertParticipation 创建或复活参与记录（重新加入会复活软删除的行）.
	UpsertParticipation(tx *gorm.DB, p *Participation) error

	// UpdateRole 修改参与记录的角色.
	UpdateRole(tx *gorm.DB, resourceID, participantID uint64, role Role) error

	// RemoveParticipation 移除参与记录（软删除）.
	RemoveParticipation(tx *gorm.DB, resourceID, participantID uint64) error

	// RemoveAllParticipations 移除资源的全部参与记录.
	RemoveAllParticipations(tx *gorm.DB, resourceID uint64) error

	// ListStartedActive 列出已过开始时间但仍未关闭的资源.
	ListStartedActive(tx *gorm.DB, now time.Time) ([]Resource, error)
}

// gormRepository Repository 的 GORM 实现.
type gormRepository struct{}

// NewRepository 创建 GORM 持久化实现.
func NewRepository() Repository {
	return &gormRepository{}
}

// Load 加载资源.
func (g *gormRepository) Load(tx *gorm.DB, id uint64) (*Resource, error) {
	var r Resource
	if err := tx.First(&r, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
		}
		return nil, err
	}
	return &r, nil
}

// Save 保存资源的容量字段与状态.
func (g *gormRepository) Save(tx *gorm.DB, r *Resource) error {
	return tx.Model(r).
		Select("current_count", "status", "owner_id").
		Updates(map[string]any{
			"current_count": r.CurrentCount,
			"status":        r.Status,
			"owner_id":      r.OwnerID,
		}).Error
}

// SoftDelete 软删除资源.
func (g *gormRepository) SoftDelete(tx *gorm.DB, r *Resource) error {
	return tx.Delete(r).Error
}

// CountActiveParticipants 统计在籍参与者数量.
func (g *gormRepository) CountActiveParticipants(tx *gorm.DB, resourceID uint64) (int, error) {
	var count int64
	err := tx.Model(&Participation{}).
		Where("resource_id = ?", resourceID).
		Count(&count).Error
	return int(count), err
}

// GetParticipation 查询参与记录.
func (g *gormRepository) GetParticipation(tx *gorm.DB, resourceID, participantID uint64) (*Participation, error) {
	var p Participation
	err := tx.Where("resource_id = ? AND participant_id = ?", resourceID, participantID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertParticipation 创建或复活参与记录.
//
// 复合主键下重新加入会撞上软删除的旧行，这里显式探测并复活.
func (g *gormRepository) UpsertParticipation(tx *gorm.DB, p *Participation) error {
	var existing Participation
	err := tx.Unscoped().
		Where("resource_id = ? AND participant_id = ?", p.ResourceID, p.ParticipantID).
		First(&existing).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tx.Create(p).Error
	}
	if err != nil {
		return err
	}

	return tx.Unscoped().Model(&Participation{}).
		Where("resource_id = ? AND participant_id = ?", p.ResourceID, p.ParticipantID).
		Updates(map[string]any{
			"role":         p.Role,
			"joined_at":    p.JoinedAt,
			"deleted_time": nil,
		}).Error
}

// UpdateRole 修改参与记录的角色.
func (g *gormRepository) UpdateRole(tx *gorm.DB, resourceID, participantID uint64, role Role) error {
	return tx.Model(&Participation{}).
		Where("resource_id = ? AND participant_id = ?", resourceID, participantID).
		Update("role", role).Error
}

// RemoveParticipation 移除参与记录.
func (g *gormRepository) RemoveParticipation(tx *gorm.DB, resourceID, participantID uint64) error {
	return tx.Where("resource_id = ? AND participant_id = ?", resourceID, participantID).
		Delete(&Participation{}).Error
}

// RemoveAllParticipations 移除资源的全部参与记录.
func (g *gormRepository) RemoveAllParticipations(tx *gorm.DB, resourceID uint64) error {
	return tx.Where("resource_id = ?", resourceID).
		Delete(&Participation{}).Error
}

// ListStartedActive 列出已过开始时间但仍未关闭的资源.
func (g *gormRepository) ListStartedActive(tx *gorm.DB, now time.Time) ([]Resource, error) {
	var resources []Resource
	err := tx.Where("starts_at IS NOT NULL AND starts_at <= ? AND status <> ?", now, StatusClosed).
		Find(&resources).Error
	return resources, err
}
