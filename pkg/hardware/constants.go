package hardware

// 设备上行消息类型
const (
	MessageTypeHello  = "hello"
	MessageTypeListen = "listen"
	MessageTypeAbort  = "abort"
	MessageTypeMCP    = "mcp"
	MessageTypeIot    = "iot"
	MessageTypePing   = "ping"
)

// 服务端下行消息类型
const (
	MessageTypeSTT  = "stt"
	MessageTypeTTS  = "tts"
	MessageTypePong = "pong"
)

// listen 消息的 state 字段
const (
	ListenStateStart  = "start"
	ListenStateStop   = "stop"
	ListenStateDetect = "detect"
)

// tts 消息的 state 字段
const (
	TTSStateStart         = "start"
	TTSStateSentenceStart = "sentence_start"
	TTSStateSentenceEnd   = "sentence_end"
	TTSStateStop          = "stop"
)

const (
	// 下行通道缓冲
	writerBufferSize = 200

	// TTS 流控：前 5 包立即下发，之后按帧时长节拍发送
	ttsPreBufferCount = 5

	// 预滚环容量，唤醒瞬间丢掉的开头音频从这里补
	prerollFrames = 10

	// 单轮用户音频上限（15 秒 16kHz 16-bit），上报用
	maxTurnPCMBytes = 15 * 16000 * 2
)
