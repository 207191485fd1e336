package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"canvas-backend/internal/canvas"
)

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db  *gorm.DB // nil이면 인메모리 모드
	hub *canvas.Hub
}

// NewHealthHandler HealthHandler 생성
func NewHealthHandler(db *gorm.DB, hub *canvas.Hub) *HealthHandler {
	return &HealthHandler{db: db, hub: hub}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse 헬스체크 응답
type HealthResponse struct {
	Status    string                    `json:"status"`
	Timestamp string                    `json:"timestamp"`
	Rooms     int                       `json:"rooms"`
	Checks    map[string]ComponentCheck `json:"checks"`
}

// Check 전체 상태 확인
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Rooms:     h.hub.RoomCount(),
		Checks:    make(map[string]ComponentCheck),
	}

	if h.db == nil {
		response.Checks["database"] = ComponentCheck{Status: "not_configured"}
	} else {
		dbStart := time.Now()
		sqlDB, err := h.db.DB()
		if err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = ComponentCheck{
				Status: "unhealthy",
				Error:  "failed to get database connection",
			}
		} else if err := sqlDB.Ping(); err != nil {
			response.Status = "unhealthy"
			response.Checks["database"] = ComponentCheck{
				Status: "unhealthy",
				Error:  "database ping failed",
			}
		} else {
			response.Checks["database"] = ComponentCheck{
				Status:  "healthy",
				Latency: time.Since(dbStart).String(),
			}
		}
	}

	statusCode := fiber.StatusOK
	if response.Status == "unhealthy" {
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(response)
}

// Liveness K8s liveness probe용 (단순 체크)
func (h *HealthHandler) Liveness(c *fiber.Ctx) error {
	return c.SendString("OK")
}

// Readiness K8s readiness probe용
func (h *HealthHandler) Readiness(c *fiber.Ctx) error {
	if h.db == nil {
		return c.SendString("READY")
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	if err := sqlDB.Ping(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).SendString("NOT READY")
	}
	return c.SendString("READY")
}
