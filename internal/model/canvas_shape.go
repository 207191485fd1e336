package model

import (
	"time"
)

// CanvasShape 캔버스 도형 아카이브 데이터
type CanvasShape struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CanvasID  string    `gorm:"not null;index:idx_canvas_shape,unique" json:"canvas_id"`
	ShapeID   string    `gorm:"not null;index:idx_canvas_shape,unique" json:"shape_id"`
	Email     string    `gorm:"not null" json:"email"`
	ShapeData string    `gorm:"type:jsonb;not null" json:"shape_data"` // JSON-encoded Shape
	ZIndex    int       `gorm:"default:-1" json:"z_index"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CanvasShape) TableName() string {
	return "canvas_shapes"
}
