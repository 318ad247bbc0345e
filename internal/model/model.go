package model

import (
	"time"
)

// Run is one recording session: a stream start/stop pair (or a buffered
// drain) and where its samples went.
type Run struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Port         string     `gorm:"index" json:"port"`
	Mode         string     `gorm:"index" json:"mode"` // realtime, buffered
	OutputPath   string     `json:"output_path"`
	Samples      int64      `json:"samples"`
	DecodeErrors int64      `json:"decode_errors"`
	StartedAt    time.Time  `gorm:"index" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
