package storage

import (
	"context"

	"gorm.io/gorm"

	"anon-chat/internal/models"
)

// ReportRepository 定义了举报记录的数据操作接口。
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	List(ctx context.Context, limit int) ([]models.Report, error)
}

type gormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository 创建一个新的基于 GORM 的 ReportRepository。
func NewGormReportRepository(db *gorm.DB) ReportRepository {
	return &gormReportRepository{db: db}
}

// Create 保存一条举报。
func (r *gormReportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// List 按时间倒序列出举报。
func (r *gormReportRepository) List(ctx context.Context, limit int) ([]models.Report, error) {
	var reports []models.Report
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&reports).Error
	return reports, err
}
