package hardware

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/config"
)

// binaryFrame 待下发的一帧 TTS 音频，带句子纪元
type binaryFrame struct {
	sentenceID string
	data       []byte
}

// ttsFlowControl TTS 下发流控状态。前几包立即发出去填满
// 设备缓冲，之后按帧时长的墙钟节拍发送，避免挤爆设备。
type ttsFlowControl struct {
	packetCount   int
	startTime     time.Time
	lastSendTime  time.Time
	frameDuration time.Duration
}

// Writer 会话的下行写出口。文本和音频各走一条带缓冲的通道，
// 由独立协程串行写连接。音频路径带句子围栏：帧的 sentence_id
// 不再是活跃句时直接丢弃，这是打断能立即生效的关键。
type Writer struct {
	conn   *websocket.Conn
	state  *TurnState
	logger *zap.Logger

	// 会话 id 每开新一轮对话就换，下行消息都带当前值
	sessMu    sync.Mutex
	sessionID string

	msgChan    chan interface{}
	binaryChan chan binaryFrame

	// gorilla 连接不允许并发写，两条写协程共用一把锁
	writeMu sync.Mutex

	flowMu sync.Mutex
	flow   ttsFlowControl

	closeOnce          sync.Once
	closeChan          chan struct{}
	writeLoopStopChan  chan struct{}
	binaryLoopStopChan chan struct{}
}

// NewWriter creates the outbound writer and starts its write loops
func NewWriter(conn *websocket.Conn, state *TurnState, sessionID string, frameDuration time.Duration, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if frameDuration <= 0 {
		frameDuration = 60 * time.Millisecond
	}
	w := &Writer{
		conn:               conn,
		state:              state,
		sessionID:          sessionID,
		logger:             logger,
		msgChan:            make(chan interface{}, writerBufferSize),
		binaryChan:         make(chan binaryFrame, writerBufferSize),
		flow:               ttsFlowControl{frameDuration: frameDuration},
		closeChan:          make(chan struct{}),
		writeLoopStopChan:  make(chan struct{}),
		binaryLoopStopChan: make(chan struct{}),
	}
	go w.writeLoop()
	go w.writeBinaryLoop()
	return w
}

func (w *Writer) writeLoop() {
	defer close(w.writeLoopStopChan)
	for {
		select {
		case <-w.closeChan:
			return
		case msg := <-w.msgChan:
			w.writeMu.Lock()
			err := w.conn.WriteJSON(msg)
			w.writeMu.Unlock()
			if err != nil {
				if !isNormalCloseError(err) {
					w.logger.Warn("[Writer] 写文本消息失败", zap.Error(err))
				}
				return
			}
		}
	}
}

func (w *Writer) writeBinaryLoop() {
	defer close(w.binaryLoopStopChan)
	for {
		select {
		case <-w.closeChan:
			return
		case frame := <-w.binaryChan:
			// 句子围栏：过期句的帧直接丢
			if !w.state.IsSentenceActive(frame.sentenceID) {
				continue
			}
			w.pace()
			// 流控等待期间可能被打断，写之前再过一次围栏
			if !w.state.IsSentenceActive(frame.sentenceID) {
				continue
			}
			w.writeMu.Lock()
			err := w.conn.WriteMessage(websocket.BinaryMessage, frame.data)
			w.writeMu.Unlock()
			if err != nil {
				if !isNormalCloseError(err) {
					w.logger.Warn("[Writer] 写音频帧失败", zap.Error(err))
				}
				return
			}
		}
	}
}

// pace 执行 TTS 流控：预缓冲包立即发，之后按帧时长节拍
func (w *Writer) pace() {
	w.flowMu.Lock()
	defer w.flowMu.Unlock()

	now := time.Now()
	w.flow.packetCount++
	if w.flow.packetCount <= ttsPreBufferCount {
		w.flow.lastSendTime = now
		return
	}

	next := w.flow.lastSendTime.Add(w.flow.frameDuration)
	if wait := next.Sub(now); wait > 0 {
		w.flowMu.Unlock()
		time.Sleep(wait)
		w.flowMu.Lock()
		w.flow.lastSendTime = next
		return
	}
	w.flow.lastSendTime = now
}

// SetSessionID 切换下行消息携带的会话 id
func (w *Writer) SetSessionID(id string) {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()
	w.sessionID = id
}

func (w *Writer) currentSessionID() string {
	w.sessMu.Lock()
	defer w.sessMu.Unlock()
	return w.sessionID
}

// ResetFlowControl 新一轮播报开始前重置流控
func (w *Writer) ResetFlowControl() {
	w.flowMu.Lock()
	defer w.flowMu.Unlock()
	w.flow.packetCount = 0
	w.flow.startTime = time.Now()
	w.flow.lastSendTime = time.Time{}
}

// sendJSON 入队一条文本消息，关闭或拥塞时丢弃
func (w *Writer) sendJSON(msg interface{}) {
	select {
	case <-w.closeChan:
	case w.msgChan <- msg:
	default:
		w.logger.Warn("[Writer] 文本通道拥塞，丢弃消息",
			zap.String("sessionID", w.currentSessionID()))
	}
}

// EnqueueTTSFrame 入队一帧 TTS 音频。入队前也做一次围栏检查，
// 省得过期帧占用通道。
func (w *Writer) EnqueueTTSFrame(sentenceID string, opus []byte) {
	if !w.state.IsSentenceActive(sentenceID) {
		return
	}
	select {
	case <-w.closeChan:
	case w.binaryChan <- binaryFrame{sentenceID: sentenceID, data: opus}:
	default:
		w.logger.Warn("[Writer] 音频通道拥塞，丢弃帧",
			zap.String("sentenceID", sentenceID))
	}
}

// SendHello 回应设备握手，带协商后的音频参数
func (w *Writer) SendHello(audio config.AudioConfig) {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeHello,
		"transport":  "websocket",
		"session_id": w.currentSessionID(),
		"audio_params": map[string]interface{}{
			"format":         audio.Format,
			"sample_rate":    audio.SampleRate,
			"channels":       audio.Channels,
			"frame_duration": audio.FrameDuration,
		},
	})
}

// SendSTT 把识别出的文本回显给设备
func (w *Writer) SendSTT(text string) {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeSTT,
		"session_id": w.currentSessionID(),
		"text":       text,
	})
}

// SendTTSStart 本轮播报开始
func (w *Writer) SendTTSStart() {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeTTS,
		"session_id": w.currentSessionID(),
		"state":      TTSStateStart,
	})
}

// SendTTSSentenceStart 一句播报开始，带这句的文本
func (w *Writer) SendTTSSentenceStart(text string) {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeTTS,
		"session_id": w.currentSessionID(),
		"state":      TTSStateSentenceStart,
		"text":       text,
	})
}

// SendTTSSentenceEnd 一句播报结束
func (w *Writer) SendTTSSentenceEnd(text string) {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeTTS,
		"session_id": w.currentSessionID(),
		"state":      TTSStateSentenceEnd,
		"text":       text,
	})
}

// SendTTSStop 本轮播报结束。打断确认也走这条消息。
func (w *Writer) SendTTSStop() {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeTTS,
		"session_id": w.currentSessionID(),
		"state":      TTSStateStop,
	})
}

// SendMCP 下发一条 MCP 消息，payload 是完整的 JSON-RPC 报文
func (w *Writer) SendMCP(payload interface{}) {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypeMCP,
		"session_id": w.currentSessionID(),
		"payload":    payload,
	})
}

// SendPong 心跳应答
func (w *Writer) SendPong() {
	w.sendJSON(map[string]interface{}{
		"type":       MessageTypePong,
		"session_id": w.currentSessionID(),
	})
}

// Close 停止写协程，最多等 1 秒
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.closeChan)
	})
	select {
	case <-w.writeLoopStopChan:
	case <-time.After(time.Second):
	}
	select {
	case <-w.binaryLoopStopChan:
	case <-time.After(time.Second):
	}
}
