package main

import (
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/config"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/logger"
)

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	flag.Parse()

	// 2. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 3. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	if err := config.GlobalConfig.Validate(); err != nil {
		panic("config invalid: " + err.Error())
	}

	// 4. Load Log Configuration
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Server.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 5. New App
	app, err := NewApp(config.GlobalConfig)
	if err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}
	defer app.Shutdown()

	// 6. Initialize Gin Routing
	if config.GlobalConfig.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	app.RegisterRoutes(r)

	// 7. Start HTTP Server
	addr := config.GlobalConfig.Server.Addr
	httpServer := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	logger.Info("Starting HTTP server",
		zap.String("addr", addr),
		zap.String("wsPath", config.GlobalConfig.Server.WSPath))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server run failed", zap.Error(err))
	}
}
