package repository

import (
	"errors"
	"time"

	"github.com/consently-next/internal/models"

	"gorm.io/gorm"
)

// EmailVerifyChallengeRepository 邮箱验证挑战数据访问接口
type EmailVerifyChallengeRepository interface {
	Create(challenge *models.EmailVerifyChallenge) error
	GetLatest(emailHash, widgetID string) (*models.EmailVerifyChallenge, error)
	MarkVerified(id uint, verifiedAt time.Time) error
	IncrementAttemptWithCount(id uint) (int, error)
	Delete(id uint) error
	CountSentSince(emailHash, widgetID string, since time.Time) (int64, error)
	OldestSentSince(emailHash, widgetID string, since time.Time) (*models.EmailVerifyChallenge, error)
	DeleteExpiredBefore(cutoff time.Time) (int64, error)
}

// GormEmailVerifyChallengeRepository GORM 实现
type GormEmailVerifyChallengeRepository struct {
	db *gorm.DB
}

// NewEmailVerifyChallengeRepository 创建邮箱验证挑战仓库
func NewEmailVerifyChallengeRepository(db *gorm.DB) *GormEmailVerifyChallengeRepository {
	return &GormEmailVerifyChallengeRepository{db: db}
}

// Create 创建挑战记录
func (r *GormEmailVerifyChallengeRepository) Create(challenge *models.EmailVerifyChallenge) error {
	return r.db.Create(challenge).Error
}

// GetLatest 获取最新挑战记录
func (r *GormEmailVerifyChallengeRepository) GetLatest(emailHash, widgetID string) (*models.EmailVerifyChallenge, error) {
	var record models.EmailVerifyChallenge
	if err := r.db.Where("email_hash = ? AND widget_id = ?", emailHash, widgetID).
		Order("sent_at desc, id desc").
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// MarkVerified 标记挑战已验证
func (r *GormEmailVerifyChallengeRepository) MarkVerified(id uint, verifiedAt time.Time) error {
	return r.db.Model(&models.EmailVerifyChallenge{}).
		Where("id = ?", id).
		Update("verified_at", verifiedAt).Error
}

// IncrementAttemptWithCount 原子递增失败次数并返回递增后的值。
// 并发校验同一挑战时，判定必须基于数据库中的计数而不是内存中的旧值。
func (r *GormEmailVerifyChallengeRepository) IncrementAttemptWithCount(id uint) (int, error) {
	if err := r.db.Model(&models.EmailVerifyChallenge{}).
		Where("id = ?", id).
		UpdateColumn("attempt_count", gorm.Expr("attempt_count + 1")).Error; err != nil {
		return 0, err
	}
	var count int
	if err := r.db.Model(&models.EmailVerifyChallenge{}).
		Where("id = ?", id).
		Pluck("attempt_count", &count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Delete 删除挑战记录（发信失败时的补偿删除）
func (r *GormEmailVerifyChallengeRepository) Delete(id uint) error {
	return r.db.Delete(&models.EmailVerifyChallenge{}, id).Error
}

// CountSentSince 统计窗口内的发送次数
func (r *GormEmailVerifyChallengeRepository) CountSentSince(emailHash, widgetID string, since time.Time) (int64, error) {
	var count int64
	if err := r.db.Model(&models.EmailVerifyChallenge{}).
		Where("email_hash = ? AND widget_id = ? AND sent_at >= ?", emailHash, widgetID, since).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// OldestSentSince 获取窗口内最早的挑战记录（用于计算限流恢复时间）
func (r *GormEmailVerifyChallengeRepository) OldestSentSince(emailHash, widgetID string, since time.Time) (*models.EmailVerifyChallenge, error) {
	var record models.EmailVerifyChallenge
	if err := r.db.Where("email_hash = ? AND widget_id = ? AND sent_at >= ?", emailHash, widgetID, since).
		Order("sent_at asc, id asc").
		First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// DeleteExpiredBefore 清理早于截止时间过期且未验证的挑战
func (r *GormEmailVerifyChallengeRepository) DeleteExpiredBefore(cutoff time.Time) (int64, error) {
	result := r.db.Where("expires_at < ? AND verified_at IS NULL", cutoff).
		Delete(&models.EmailVerifyChallenge{})
	return result.RowsAffected, result.Error
}
