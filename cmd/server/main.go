package main

import (
	"log"

	"gorm.io/gorm"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/server"
	"canvas-backend/internal/storage"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결 (선택적 - 미설정 시 인메모리 모드)
	var db *gorm.DB
	var archive canvas.Archiver
	if cfg.Database.Enabled() {
		var err error
		db, err = database.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("❌ Database connection failed: %v", err)
		}
		defer database.Close(db)

		// Ping 테스트
		if err := database.Ping(db); err != nil {
			log.Fatalf("❌ Database ping failed: %v", err)
		}
		log.Printf("✅ Database connected successfully")

		archive = storage.NewCanvasStore(db)
	} else {
		log.Println("ℹ️ Database not configured, canvases are in-memory only")
	}

	// 룸 허브 생성
	hub := canvas.NewHub(cfg, archive)

	// 서버 생성 및 설정
	srv := server.New(cfg, db, hub, archive)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
