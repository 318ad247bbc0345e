package repository

import (
	"time"

	"github.com/inkley/sensorctl/internal/model"
	"gorm.io/gorm"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(run *model.Run) error {
	return r.db.Create(run).Error
}

// Finish stamps the end time and final counters on a run.
func (r *RunRepository) Finish(run *model.Run, samples, decodeErrors int64) error {
	now := time.Now()
	run.Samples = samples
	run.DecodeErrors = decodeErrors
	run.EndedAt = &now
	return r.db.Model(run).Updates(map[string]interface{}{
		"samples":       samples,
		"decode_errors": decodeErrors,
		"ended_at":      now,
	}).Error
}

func (r *RunRepository) Recent(limit int) ([]model.Run, error) {
	var runs []model.Run
	err := r.db.Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

func (r *RunRepository) FindByPort(port string) ([]model.Run, error) {
	var runs []model.Run
	err := r.db.Where("port = ?", port).Order("started_at desc").Find(&runs).Error
	return runs, err
}
