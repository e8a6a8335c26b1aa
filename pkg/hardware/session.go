package hardware

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/cache"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/config"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/dialogue"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/llm"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/manage"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media/encoder"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/recognizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/synthesizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/utils"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/vad"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/wakeword"
)

// helloAudioParams 设备握手里的音频参数
type helloAudioParams struct {
	Format        string `json:"format"`
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels"`
	FrameDuration int    `json:"frame_duration"`
}

// clientMessage 设备上行文本消息
type clientMessage struct {
	Type        string            `json:"type"`
	State       string            `json:"state,omitempty"`
	Mode        string            `json:"mode,omitempty"`
	Text        string            `json:"text,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Version     int               `json:"version,omitempty"`
	AudioParams *helloAudioParams `json:"audio_params,omitempty"`
	Features    map[string]bool   `json:"features,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

// Options 一个会话需要的全部依赖
type Options struct {
	Config   *config.Config
	DeviceID string
	ClientID string
	RemoteIP string

	// 设备未绑定时控制面返回的绑定码，握手后播报给用户
	BindCode string

	ASR recognizer.Transcriber
	TTS synthesizer.Synthesizer
	LLM llm.Provider

	Wakeword   *wakeword.Cache
	Manage     *manage.Client
	Reporter   *manage.Reporter
	Locator    *IPLocator
	AudioCache cache.Cache

	Logger *zap.Logger
}

// Session 一台设备的语音会话。读循环串行处理上行消息，
// 派发和播报在独立协程里跑，通过状态机和句子纪元协调。
type Session struct {
	// 会话 id 每开新一轮对话重新生成，句子纪元和上报都用当前值
	idMu sync.Mutex
	id   string

	conn   *websocket.Conn
	cfg    *config.Config
	logger *zap.Logger

	writer  *Writer
	state   *TurnState
	vad     *vad.Detector
	preroll *Preroll
	history *dialogue.History
	mcp     *MCPClient

	asr recognizer.Transcriber
	tts synthesizer.Synthesizer
	llm llm.Provider

	wakewords  *wakeword.Cache
	manage     *manage.Client
	reporter   *manage.Reporter
	locator    *IPLocator
	audioCache cache.Cache

	deviceID string
	clientID string
	remoteIP string
	bindCode string

	// 协商后的音频参数和对应的上行解码器
	audioMu sync.Mutex
	audio   config.AudioConfig
	decode  media.EncoderFunc

	// 本轮用户 PCM，上报对话记录时带上
	turnPCMMu sync.Mutex
	turnPCM   []byte

	turnCancelMu sync.Mutex
	turnCancel   context.CancelFunc

	closeOnce sync.Once
	closeChan chan struct{}
}

// NewSession creates a device session over an accepted websocket connection
func NewSession(conn *websocket.Conn, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	state := NewTurnState()
	frameDuration := time.Duration(opts.Config.Audio.FrameDuration) * time.Millisecond

	s := &Session{
		id:         id,
		conn:       conn,
		cfg:        opts.Config,
		logger:     logger,
		writer:     NewWriter(conn, state, id, frameDuration, logger),
		state:      state,
		preroll:    NewPreroll(prerollFrames),
		history:    dialogue.NewHistory(opts.Config.Dialogue.MaxHistory),
		asr:        opts.ASR,
		tts:        opts.TTS,
		llm:        opts.LLM,
		wakewords:  opts.Wakeword,
		manage:     opts.Manage,
		reporter:   opts.Reporter,
		locator:    opts.Locator,
		audioCache: opts.AudioCache,
		deviceID:   opts.DeviceID,
		clientID:   opts.ClientID,
		remoteIP:   opts.RemoteIP,
		bindCode:   opts.BindCode,
		audio:      opts.Config.Audio,
		closeChan:  make(chan struct{}),
	}

	s.vad = vad.NewDetector(vad.Config{
		Enabled:           opts.Config.VAD.Enabled,
		Threshold:         opts.Config.VAD.Threshold,
		ConsecutiveFrames: opts.Config.VAD.ConsecutiveFrames,
		FrameDuration:     frameDuration,
		MinSilence:        opts.Config.VAD.MinSilenceAuto,
	}, logger)
	s.decode = s.buildDecode(s.audio)

	s.asr.SetResultCallback(s.onASRResult)
	s.asr.SetErrorCallback(func(err error) {
		se := Classify("asr", err)
		s.logger.Warn("[Session] 识别出错",
			zap.String("sessionID", s.sessionID()),
			zap.String("class", se.Class.String()),
			zap.Error(err))
	})
	if ec, ok := s.tts.(interface {
		SetErrorCallback(func(sentenceID string, err error))
	}); ok {
		ec.SetErrorCallback(s.onTTSError)
	}

	s.history.SetSystem(opts.Config.LLM.Prompt)
	return s
}

// ID 当前会话 id
func (s *Session) ID() string {
	return s.sessionID()
}

func (s *Session) sessionID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return s.id
}

// rotateSessionID 换一个新的会话 id，新一轮对话的边界调用
func (s *Session) rotateSessionID() string {
	id := uuid.NewString()
	s.idMu.Lock()
	s.id = id
	s.idMu.Unlock()
	s.writer.SetSessionID(id)
	return id
}

// Run 跑读循环直到连接断开，返回前释放会话持有的资源
func (s *Session) Run(ctx context.Context) {
	defer s.Close()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closeChan:
		}
	}()
	go s.prepareSystemPrompt()

	s.logger.Info("[Session] 会话开始",
		zap.String("sessionID", s.sessionID()),
		zap.String("deviceID", s.deviceID),
		zap.String("remoteIP", s.remoteIP))

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if !isNormalCloseError(err) {
				s.logger.Warn("[Session] 读连接失败",
					zap.String("sessionID", s.sessionID()), zap.Error(err))
			}
			return
		}
		switch msgType {
		case websocket.TextMessage:
			s.handleText(data)
		case websocket.BinaryMessage:
			s.handleAudio(data)
		}
	}
}

func (s *Session) handleText(data []byte) {
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("[Session] 消息解析失败", zap.Error(err))
		return
	}

	switch msg.Type {
	case MessageTypeHello:
		s.handleHello(&msg)
	case MessageTypeListen:
		s.handleListen(&msg)
	case MessageTypeAbort:
		reason := msg.Reason
		if reason == "" {
			reason = "client abort"
		}
		s.abortSpeaking(reason)
	case MessageTypeMCP, MessageTypeIot:
		// iot 是老固件的叫法，报文同样是 JSON-RPC，走同一条工具通道
		if s.mcp != nil {
			s.mcp.HandleMessage(msg.Payload)
		}
	case MessageTypePing:
		s.writer.SendPong()
	default:
		s.logger.Debug("[Session] 未知消息类型", zap.String("type", msg.Type))
	}
}

func (s *Session) handleHello(msg *clientMessage) {
	audio := s.cfg.Audio
	if p := msg.AudioParams; p != nil {
		if p.Format != "" {
			audio.Format = p.Format
		}
		if p.SampleRate > 0 {
			audio.SampleRate = p.SampleRate
		}
		if p.Channels > 0 {
			audio.Channels = p.Channels
		}
		if p.FrameDuration > 0 {
			audio.FrameDuration = p.FrameDuration
		}
	}

	s.audioMu.Lock()
	s.audio = audio
	s.decode = s.buildDecode(audio)
	s.audioMu.Unlock()

	s.writer.SendHello(audio)
	s.state.Set(StateIdle)

	if msg.Features["mcp"] {
		s.mcp = NewMCPClient(s.writer, s.logger)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.mcp.Initialize(ctx); err != nil {
				s.logger.Warn("[MCP] 初始化失败", zap.Error(err))
			}
		}()
	}

	if s.bindCode != "" {
		go s.speakBindCode()
	}

	s.logger.Info("[Session] 设备握手完成",
		zap.String("sessionID", s.sessionID()),
		zap.String("deviceID", s.deviceID),
		zap.String("format", audio.Format),
		zap.Int("sampleRate", audio.SampleRate),
		zap.Int("frameDuration", audio.FrameDuration),
		zap.Bool("mcp", msg.Features["mcp"]))
}

func (s *Session) handleListen(msg *clientMessage) {
	switch msg.State {
	case ListenStateStart:
		mode := recognizer.ListenMode(msg.Mode)
		if mode == "" {
			mode = recognizer.ModeAuto
		}
		s.state.SetMode(mode)
		if mode == recognizer.ModeManual {
			s.vad.SetMinSilence(s.cfg.VAD.MinSilenceManual)
		} else {
			s.vad.SetMinSilence(s.cfg.VAD.MinSilenceAuto)
		}
		s.openListening()
	case ListenStateStop:
		go s.completeTurn("listen stop")
	case ListenStateDetect:
		go s.handleWakeWord(msg.Text)
	default:
		s.logger.Debug("[Session] 未知 listen 状态", zap.String("state", msg.State))
	}
}

// handleAudio 上行音频帧。无论当前状态都进预滚环，
// 收音中喂给 ASR 和 VAD，播报中只做打断检测。
func (s *Session) handleAudio(frame []byte) {
	st := s.state.Get()
	if st == StateTerminated {
		return
	}
	s.preroll.Push(frame)

	s.audioMu.Lock()
	dec := s.decode
	s.audioMu.Unlock()

	var pcms [][]byte
	if dec != nil {
		pkts, err := dec(&media.AudioPacket{Payload: frame})
		if err != nil {
			s.logger.Debug("[Session] 音频解码失败", zap.Error(err))
		} else {
			for _, pkt := range pkts {
				pcms = append(pcms, pkt.Body())
			}
		}
	}

	switch st {
	case StateListening, StateRecognizing:
		if err := s.asr.Push(frame); err != nil && err != recognizer.ErrClientClosed {
			s.logger.Debug("[Session] 推送识别帧失败", zap.Error(err))
		}
		s.appendTurnPCM(pcms)
		for _, pcm := range pcms {
			switch s.vad.Feed(pcm) {
			case vad.EventVoiceStart:
				s.state.Set(StateRecognizing)
			case vad.EventVoiceStop:
				if s.state.Mode() != recognizer.ModeManual {
					go s.completeTurn("vad stop")
				}
			}
		}
	case StateSpeaking:
		// 播报中检测到人声就打断
		for _, pcm := range pcms {
			if s.vad.Feed(pcm) == vad.EventVoiceStart {
				s.abortSpeaking("voice interrupt")
				break
			}
		}
	}
}

// openListening 开启新一轮收音：重置 VAD 和轮缓冲，
// 开 ASR 轮次并把预滚环里的帧补进去。
func (s *Session) openListening() {
	if s.state.Get() == StateTerminated {
		return
	}
	s.vad.Reset()
	s.resetTurnPCM()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.asr.Open(ctx, s.sessionID(), s.state.Mode()); err != nil {
		s.logger.Warn("[Session] 开启识别失败",
			zap.String("sessionID", s.sessionID()), zap.Error(err))
		s.state.Set(StateIdle)
		return
	}
	for _, frame := range s.preroll.Drain() {
		_ = s.asr.Push(frame)
	}
	s.state.Set(StateListening)
}

// completeTurn 结束当前收音轮：取识别终文并派发。
// VAD 判停、手动 stop 都走这里，空轮直接重新收音。
func (s *Session) completeTurn(trigger string) {
	if !s.state.Is(StateListening, StateRecognizing) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	text, err := s.asr.Finalize(ctx)
	if err != nil && err != recognizer.ErrClientClosed {
		s.logger.Warn("[Session] 识别收尾失败",
			zap.String("trigger", trigger), zap.Error(err))
	}

	res := recognizer.ParseResult(text)
	if _, n := utils.RemovePunctuation(res.Content); n == 0 {
		s.logger.Debug("[Session] 空轮", zap.String("trigger", trigger))
		s.rearmOrIdle()
		return
	}
	res.IsFinal = true
	s.tryDispatch(res)
}

// onASRResult 流式识别回调。自动模式下第一个终句直接触发派发，
// 不等 VAD 判停，抢出几百毫秒的响应时间。
func (s *Session) onASRResult(res *recognizer.Result) {
	if !res.IsFinal {
		return
	}
	if s.state.Mode() == recognizer.ModeManual {
		// 手动模式的终句由 Finalize 聚合
		return
	}
	if _, n := utils.RemovePunctuation(res.Content); n == 0 {
		return
	}
	s.tryDispatch(*res)
}

func (s *Session) tryDispatch(res recognizer.Result) {
	if !s.state.BeginTurn() {
		return
	}
	s.rotateSessionID()
	go s.dispatchTurn(res)
}

// abortSpeaking 打断当前播报：作废句子纪元，取消派发协程，
// 立即回 tts stop。自动模式下马上重新开始收音。
func (s *Session) abortSpeaking(reason string) {
	s.state.InvalidateSentence()
	s.cancelTurn()
	s.writer.SendTTSStop()
	s.logger.Info("[Session] 播报已打断",
		zap.String("sessionID", s.sessionID()),
		zap.String("reason", reason))

	if s.state.Mode() != recognizer.ModeManual {
		s.openListening()
	} else {
		s.state.Set(StateIdle)
	}
}

// rearmOrIdle 一轮结束后的去向：自动模式继续收音，手动模式回到待机
func (s *Session) rearmOrIdle() {
	if s.state.Get() == StateTerminated {
		return
	}
	if s.state.Mode() != recognizer.ModeManual {
		s.openListening()
	} else {
		s.state.Set(StateIdle)
	}
}

// onTTSError 合成器重连失败后的兜底：话术只能以文字下发
func (s *Session) onTTSError(sentenceID string, err error) {
	s.logger.Warn("[Session] 语音合成失败",
		zap.String("sentenceID", sentenceID), zap.Error(err))
	s.writer.SendTTSSentenceStart(SpokenTTSFailure)
}

// speakBindCode 播报设备绑定码，数字逐个念
func (s *Session) speakBindCode() {
	var b strings.Builder
	for _, r := range s.bindCode {
		b.WriteRune(r)
		b.WriteRune(' ')
	}
	text := "设备尚未绑定，请在管理后台输入绑定码 " + strings.TrimSpace(b.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.speakText(ctx, text)
}

// prepareSystemPrompt 给系统提示词补上日期和设备归属地
func (s *Session) prepareSystemPrompt() {
	extras := []string{"今天是" + time.Now().Format("2006年01月02日")}
	if s.locator != nil && s.remoteIP != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if loc := s.locator.Lookup(ctx, s.remoteIP); loc != "" {
			extras = append(extras, "设备所在地："+loc)
		}
	}
	s.history.SetSystem(s.cfg.LLM.Prompt + "\n" + strings.Join(extras, "，"))
}

func (s *Session) buildDecode(audio config.AudioConfig) media.EncoderFunc {
	src := media.CodecConfig{
		Codec:         audio.Format,
		SampleRate:    audio.SampleRate,
		Channels:      audio.Channels,
		BitDepth:      16,
		FrameDuration: strconv.Itoa(audio.FrameDuration),
	}
	pcm := src
	pcm.Codec = "pcm"
	dec, err := encoder.CreateDecode(src, pcm)
	if err != nil {
		s.logger.Warn("[Session] 创建解码器失败",
			zap.String("format", audio.Format), zap.Error(err))
		return nil
	}
	return dec
}

func (s *Session) negotiatedAudio() config.AudioConfig {
	s.audioMu.Lock()
	defer s.audioMu.Unlock()
	return s.audio
}

func (s *Session) appendTurnPCM(pcms [][]byte) {
	s.turnPCMMu.Lock()
	defer s.turnPCMMu.Unlock()
	for _, pcm := range pcms {
		if len(s.turnPCM)+len(pcm) > maxTurnPCMBytes {
			return
		}
		s.turnPCM = append(s.turnPCM, pcm...)
	}
}

func (s *Session) resetTurnPCM() {
	s.turnPCMMu.Lock()
	defer s.turnPCMMu.Unlock()
	s.turnPCM = nil
}

func (s *Session) takeTurnPCM() []byte {
	s.turnPCMMu.Lock()
	defer s.turnPCMMu.Unlock()
	pcm := s.turnPCM
	s.turnPCM = nil
	return pcm
}

func (s *Session) setTurnCancel(cancel context.CancelFunc) {
	s.turnCancelMu.Lock()
	defer s.turnCancelMu.Unlock()
	s.turnCancel = cancel
}

func (s *Session) cancelTurn() {
	s.turnCancelMu.Lock()
	defer s.turnCancelMu.Unlock()
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
}

// Close 终止会话并释放资源，幂等
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closeChan)
		s.state.Set(StateTerminated)
		s.state.InvalidateSentence()
		s.cancelTurn()
		_ = s.asr.Close()
		_ = s.tts.Close()
		s.writer.Close()
		_ = s.conn.Close()
		s.saveSummary()
		s.logger.Info("[Session] 会话结束",
			zap.String("sessionID", s.sessionID()),
			zap.String("deviceID", s.deviceID))
	})
}

// saveSummary 会话结束时把最后一次助手回复存成摘要
func (s *Session) saveSummary() {
	if s.manage == nil {
		return
	}
	msgs := s.history.Messages()
	var last string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			last = msgs[i].Content
			break
		}
	}
	if last == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.manage.SaveChatSummary(ctx, s.sessionID(), utils.TruncateRunes(last, 100)); err != nil {
		s.logger.Warn("[Session] 保存摘要失败", zap.Error(err))
	}
}
