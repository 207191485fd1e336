package model

import (
	"errors"
	"fmt"
)

// ErrInvalidShape 잘못된 도형 데이터
var ErrInvalidShape = errors.New("invalid shape")

// ShapeType 도형 종류
type ShapeType string

const (
	ShapePen       ShapeType = "pen"
	ShapeEraser    ShapeType = "eraser"
	ShapeRectangle ShapeType = "rectangle"
	ShapeCircle    ShapeType = "circle"
	ShapeArrow     ShapeType = "arrow"
	ShapeText      ShapeType = "text"
)

func (t ShapeType) String() string {
	return string(t)
}

// Valid reports whether t is one of the closed set of shape kinds.
func (t ShapeType) Valid() bool {
	switch t {
	case ShapePen, ShapeEraser, ShapeRectangle, ShapeCircle, ShapeArrow, ShapeText:
		return true
	}
	return false
}

// ZIndexUnassigned is the placeholder order key a shape carries until the
// coordinator assigns the canonical value.
const ZIndexUnassigned = -1

// Shape is one drawable element. ID and Type are fixed at creation; every
// other field is replaced as a whole on update (last writer wins per shape,
// never per field).
//
// Which fields are meaningful depends on Type:
//   - pen/eraser: Points (flat x,y pairs), Stroke, StrokeWidth
//   - rectangle:  X, Y, Width, Height
//   - circle:     X, Y, Radius
//   - arrow:      Points (exactly startX, startY, endX, endY)
//   - text:       X, Y, Text, FontSize, FontFamily, FontStyle
type Shape struct {
	ID     string    `json:"id"`
	Type   ShapeType `json:"type"`
	ZIndex int       `json:"zIndex"`

	// Stroke shapes (pen, eraser, arrow)
	Points      []float64 `json:"points,omitempty"`
	Stroke      string    `json:"stroke,omitempty"`
	StrokeWidth float64   `json:"strokeWidth,omitempty"`
	Tension     float64   `json:"tension,omitempty"`
	LineCap     string    `json:"lineCap,omitempty"`

	// Rectangle / circle / text anchor
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`
	Radius float64 `json:"radius,omitempty"`

	// Text
	Text       string  `json:"text,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontStyle  string  `json:"fontStyle,omitempty"`
}

// CompositeOperation returns the canvas composite mode for rendering.
// Erasers subtract instead of painting.
func (s *Shape) CompositeOperation() string {
	if s.Type == ShapeEraser {
		return "destination-out"
	}
	return "source-over"
}

// Validate checks the required fields for the declared shape type.
func (s *Shape) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidShape)
	}
	if !s.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidShape, s.Type)
	}

	switch s.Type {
	case ShapePen, ShapeEraser:
		if len(s.Points) < 2 || len(s.Points)%2 != 0 {
			return fmt.Errorf("%w: %s needs an even points list of length >= 2, got %d", ErrInvalidShape, s.Type, len(s.Points))
		}
		if s.Stroke == "" {
			return fmt.Errorf("%w: %s missing stroke color", ErrInvalidShape, s.Type)
		}
		if s.StrokeWidth <= 0 {
			return fmt.Errorf("%w: %s strokeWidth must be positive, got %v", ErrInvalidShape, s.Type, s.StrokeWidth)
		}

	case ShapeRectangle:
		// Width/height may be negative mid-drag; the renderer normalizes.
		// Nothing to check beyond the anchor being present in the payload,
		// which the zero value already covers.

	case ShapeCircle:
		if s.Radius < 0 {
			return fmt.Errorf("%w: circle radius must be >= 0, got %v", ErrInvalidShape, s.Radius)
		}

	case ShapeArrow:
		if len(s.Points) != 4 {
			return fmt.Errorf("%w: arrow needs exactly 4 points, got %d", ErrInvalidShape, len(s.Points))
		}

	case ShapeText:
		if s.Text == "" {
			return fmt.Errorf("%w: text shape with empty text", ErrInvalidShape)
		}
		if s.FontSize <= 0 {
			return fmt.Errorf("%w: fontSize must be positive, got %v", ErrInvalidShape, s.FontSize)
		}
	}

	return nil
}

// Clone returns a deep copy so callers can hand shapes across goroutines
// without sharing the points slice.
func (s *Shape) Clone() *Shape {
	c := *s
	if s.Points != nil {
		c.Points = make([]float64, len(s.Points))
		copy(c.Points, s.Points)
	}
	return &c
}
