package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"canvas-backend/internal/model"
)

// CanvasStore archives shapes to Postgres so a room can be restored after
// a restart. It implements canvas.Archiver; the coordinator writes behind
// its in-memory state, so failures here never block or corrupt a room.
type CanvasStore struct {
	db *gorm.DB
}

// NewCanvasStore creates a store on an open GORM connection.
func NewCanvasStore(db *gorm.DB) *CanvasStore {
	return &CanvasStore{db: db}
}

// SaveShape inserts a freshly drawn shape. A conflicting (canvas_id,
// shape_id) row means a redelivered intent; the existing row wins.
func (s *CanvasStore) SaveShape(canvasID, email string, shape *model.Shape) error {
	data, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("failed to marshal shape %s: %w", shape.ID, err)
	}

	row := model.CanvasShape{
		CanvasID:  canvasID,
		ShapeID:   shape.ID,
		Email:     email,
		ShapeData: string(data),
		ZIndex:    shape.ZIndex,
	}

	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// ReplaceShape overwrites the archived payload for an updated shape.
func (s *CanvasStore) ReplaceShape(canvasID string, shape *model.Shape) error {
	data, err := json.Marshal(shape)
	if err != nil {
		return fmt.Errorf("failed to marshal shape %s: %w", shape.ID, err)
	}

	return s.db.Model(&model.CanvasShape{}).
		Where("canvas_id = ? AND shape_id = ?", canvasID, shape.ID).
		Updates(map[string]interface{}{
			"shape_data": string(data),
			"z_index":    shape.ZIndex,
		}).Error
}

// SetZIndex records the canonical order key, inside the payload and on
// the indexed column used to rebuild arrival order.
func (s *CanvasStore) SetZIndex(canvasID, shapeID string, zIndex int) error {
	var row model.CanvasShape
	err := s.db.Where("canvas_id = ? AND shape_id = ?", canvasID, shapeID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // cleared before the assignment landed
		}
		return err
	}

	var shape model.Shape
	if err := json.Unmarshal([]byte(row.ShapeData), &shape); err != nil {
		return fmt.Errorf("failed to parse archived shape %s: %w", shapeID, err)
	}
	shape.ZIndex = zIndex

	data, err := json.Marshal(&shape)
	if err != nil {
		return err
	}

	return s.db.Model(&model.CanvasShape{}).
		Where("canvas_id = ? AND shape_id = ?", canvasID, shapeID).
		Updates(map[string]interface{}{
			"shape_data": string(data),
			"z_index":    zIndex,
		}).Error
}

// ClearRoom hard-deletes every archived shape for the canvas.
func (s *CanvasStore) ClearRoom(canvasID string) error {
	return s.db.Where("canvas_id = ?", canvasID).Delete(&model.CanvasShape{}).Error
}

// LoadRoom returns the archived shapes in original arrival order
// (insertion id order, which also recovers the z-index tie-break).
func (s *CanvasStore) LoadRoom(canvasID string) ([]model.Shape, error) {
	var rows []model.CanvasShape
	if err := s.db.Where("canvas_id = ?", canvasID).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load canvas %s: %w", canvasID, err)
	}

	shapes := make([]model.Shape, 0, len(rows))
	for _, row := range rows {
		var shape model.Shape
		if err := json.Unmarshal([]byte(row.ShapeData), &shape); err != nil {
			// Skip rows that no longer parse rather than failing the restore.
			continue
		}
		shapes = append(shapes, shape)
	}
	return shapes, nil
}
