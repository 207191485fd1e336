package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/canvas"
	"canvas-backend/internal/config"
	"canvas-backend/internal/handler"
)

// Server Fiber 서버 래퍼
type Server struct {
	app             *fiber.App
	cfg             *config.Config
	db              *gorm.DB
	hub             *canvas.Hub
	canvasHandler   *handler.CanvasHandler
	canvasWSHandler *handler.CanvasWSHandler
	healthHandler   *handler.HealthHandler
	jwtManager      *auth.JWTManager
}

// New 새 서버 인스턴스 생성. db와 archive는 nil일 수 있음 (인메모리 모드).
func New(cfg *config.Config, db *gorm.DB, hub *canvas.Hub, archive canvas.Archiver) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Canvas Sync Backend",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	return &Server{
		app:             app,
		cfg:             cfg,
		db:              db,
		hub:             hub,
		canvasHandler:   handler.NewCanvasHandler(hub, archive),
		canvasWSHandler: handler.NewCanvasWSHandler(hub, cfg.WebSocket.WriteTimeout),
		healthHandler:   handler.NewHealthHandler(db, hub),
		jwtManager:      jwtManager,
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Asia/Seoul",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	// Rate Limiter (토큰 발급 엔드포인트용 - Brute Force 방지)
	tokenLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// 개발용 토큰 발급 (운영에서는 매직 링크 서비스가 발급)
	s.app.Post("/auth/token", tokenLimiter, s.issueToken)

	// Canvas REST 라우트 (인증 필요)
	api := s.app.Group("/api", auth.Middleware(s.jwtManager))
	api.Get("/canvas/:canvasId", s.canvasHandler.GetCanvas)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 캔버스 엔드포인트
	s.app.Get("/ws/canvas/:canvasId", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 쿠키 또는 쿼리 파라미터에서 JWT 토큰 추출
		accessToken := c.Cookies("access_token")
		if accessToken == "" {
			accessToken = c.Query("token")
		}
		if accessToken == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		// JWT 검증
		claims, err := s.jwtManager.ValidateToken(accessToken)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		canvasID := c.Params("canvasId")
		if canvasID == "" {
			return c.SendStatus(fiber.StatusBadRequest)
		}

		c.Locals("canvasId", canvasID)
		c.Locals("email", claims.Email)

		return c.Next()
	}, websocket.New(s.canvasWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// issueToken 이메일을 받아 서명된 토큰 반환 (개발/테스트 전용)
func (s *Server) issueToken(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil || req.Email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "email is required"})
	}

	token, err := s.jwtManager.GenerateToken(req.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate token"})
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		Expires:  time.Now().Add(s.cfg.Auth.AccessTokenExpiry),
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.JSON(fiber.Map{"token": token})
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Canvas Sync Backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/canvas/:canvasId", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
