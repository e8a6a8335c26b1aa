package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/cache"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/config"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/hardware"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/llm"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/manage"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/recognizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/synthesizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/wakeword"
)

// App 进程级共享组件。每个设备连接从这里拿依赖组装会话。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	manage     *manage.Client
	reporter   *manage.Reporter
	wakewords  *wakeword.Cache
	audioCache cache.Cache
	locator    *hardware.IPLocator

	upgrader websocket.Upgrader
}

// NewApp wires the process-wide components from global config
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:        cfg,
		logger:     zap.L(),
		audioCache: cache.NewGoCache(cache.DefaultConfig()),
		locator:    hardware.NewIPLocator(zap.L()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// 嵌入式设备不带 Origin 头
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	if cfg.Manage.Enabled {
		app.manage = manage.NewClient(manage.Config{
			BaseURL:    cfg.Manage.BaseURL,
			Secret:     cfg.Manage.Secret,
			MaxRetries: cfg.Manage.MaxRetries,
			RetryDelay: cfg.Manage.RetryDelay,
			Timeout:    cfg.Manage.Timeout,
		}, zap.L())
		app.reporter = manage.NewReporter(app.manage, zap.L())
	}

	if cfg.Wakeword.Enabled {
		var oneshot synthesizer.Oneshot
		if cfg.TTS.Provider == "local" {
			oneshot = synthesizer.NewLocalSynthesizer(app.ttsConfig())
		} else {
			oneshot = synthesizer.NewOneshotSynthesizer(app.ttsConfig(), zap.L())
		}
		wc, err := wakeword.NewCache(wakeword.Config{
			AssetsDir:   cfg.Wakeword.AssetsDir,
			RefreshTime: cfg.Wakeword.RefreshTime,
		}, oneshot, zap.L())
		if err != nil {
			return nil, err
		}
		app.wakewords = wc
	}

	return app, nil
}

// RegisterRoutes 注册健康检查和设备接入路由
func (app *App) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET(app.cfg.Server.WSPath, app.handleWebsocket)
}

// handleWebsocket 设备接入点：校验令牌、升级连接、起会话
func (app *App) handleWebsocket(c *gin.Context) {
	if token := app.cfg.Server.AuthToken; token != "" {
		got := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if got != token {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	deviceID := c.GetHeader("Device-Id")
	clientID := c.GetHeader("Client-Id")
	remoteIP := c.ClientIP()

	conn, err := app.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		app.logger.Warn("[Server] WebSocket 升级失败",
			zap.String("deviceID", deviceID), zap.Error(err))
		return
	}

	go app.serveDevice(conn, deviceID, clientID, remoteIP)
}

func (app *App) serveDevice(conn *websocket.Conn, deviceID, clientID, remoteIP string) {
	opts, err := app.buildSessionOptions(deviceID, clientID, remoteIP)
	if err != nil {
		app.logger.Warn("[Server] 拒绝设备接入",
			zap.String("deviceID", deviceID), zap.Error(err))
		_ = conn.Close()
		return
	}

	sess := hardware.NewSession(conn, opts)
	sess.Run(context.Background())
}

// buildSessionOptions 组装一个会话的依赖。接了控制面时先拉
// 这台设备的模型选择，拉不到就退回全局默认配置。
func (app *App) buildSessionOptions(deviceID, clientID, remoteIP string) (hardware.Options, error) {
	cfg := app.cfg

	asrCfg := recognizer.Config{
		Provider:           cfg.ASR.Provider,
		WSURL:              cfg.ASR.WSURL,
		HTTPURL:            cfg.ASR.HTTPURL,
		APIKey:             cfg.ASR.APIKey,
		Model:              cfg.ASR.Model,
		SampleRate:         cfg.Audio.SampleRate,
		Channels:           cfg.Audio.Channels,
		MaxSentenceSilence: cfg.ASR.MaxSentenceSilence,
	}
	ttsCfg := app.ttsConfig()
	llmCfg := llm.Config{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	}

	bindCode := ""
	if app.manage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		models, err := app.manage.AgentModels(ctx, deviceID, clientID, nil)
		cancel()

		var bindErr *manage.DeviceBindError
		if err == nil {
			if m, ok := models["ASR"].(map[string]interface{}); ok {
				asrCfg = recognizer.ConfigFromMap(m, asrCfg)
			}
			if m, ok := models["TTS"].(map[string]interface{}); ok {
				ttsCfg = synthesizer.ConfigFromMap(m, ttsCfg)
			}
			if m, ok := models["LLM"].(map[string]interface{}); ok {
				llmCfg = llmConfigFromMap(m, llmCfg)
			}
		} else if errors.As(err, &bindErr) {
			// 没绑定的设备先接进来，握手后播报绑定码
			bindCode = bindErr.BindCode
		} else if errors.Is(err, manage.ErrDeviceNotFound) {
			return hardware.Options{}, err
		} else {
			app.logger.Warn("[Server] 拉取设备配置失败，使用默认配置",
				zap.String("deviceID", deviceID), zap.Error(err))
		}
	}

	asr, err := recognizer.Create(asrCfg, zap.L())
	if err != nil {
		return hardware.Options{}, err
	}
	tts, err := synthesizer.Create(ttsCfg, zap.L())
	if err != nil {
		return hardware.Options{}, err
	}

	return hardware.Options{
		Config:     cfg,
		DeviceID:   deviceID,
		ClientID:   clientID,
		RemoteIP:   remoteIP,
		BindCode:   bindCode,
		ASR:        asr,
		TTS:        tts,
		LLM:        llm.NewOpenAIProvider(llmCfg, zap.L()),
		Wakeword:   app.wakewords,
		Manage:     app.manage,
		Reporter:   app.reporter,
		Locator:    app.locator,
		AudioCache: app.audioCache,
		Logger:     zap.L(),
	}, nil
}

func (app *App) ttsConfig() synthesizer.Config {
	cfg := app.cfg
	return synthesizer.Config{
		Provider:      cfg.TTS.Provider,
		WSURL:         cfg.TTS.WSURL,
		APIKey:        cfg.TTS.APIKey,
		Model:         cfg.TTS.Model,
		Voice:         cfg.TTS.Voice,
		SampleRate:    cfg.TTS.SampleRate,
		Channels:      cfg.Audio.Channels,
		FrameDuration: cfg.Audio.FrameDuration,
		Volume:        cfg.TTS.Volume,
		Rate:          cfg.TTS.Rate,
		Pitch:         cfg.TTS.Pitch,
		ReuseWindow:   cfg.TTS.ReuseWindow,
	}
}

// llmConfigFromMap 控制面下发的 LLM 配置是弱类型 map
func llmConfigFromMap(m map[string]interface{}, defaults llm.Config) llm.Config {
	cfg := defaults
	if v, ok := m["api_key"]; ok {
		cfg.APIKey = cast.ToString(v)
	}
	if v, ok := m["base_url"]; ok {
		cfg.BaseURL = cast.ToString(v)
	}
	if v, ok := m["model"]; ok {
		cfg.Model = cast.ToString(v)
	}
	return cfg
}

// Shutdown 停掉后台组件
func (app *App) Shutdown() {
	if app.reporter != nil {
		app.reporter.Stop()
	}
	if app.audioCache != nil {
		_ = app.audioCache.Close()
	}
}
