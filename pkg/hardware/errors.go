package hardware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/manage"
)

// ErrorClass 会话内错误分级。恢复级错误只影响当前轮，
// 致命错误终止会话，业务错误需要向用户播报。
type ErrorClass int

const (
	ErrorClassRecoverable ErrorClass = iota
	ErrorClassFatal
	ErrorClassBusiness
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorClassRecoverable:
		return "recoverable"
	case ErrorClassFatal:
		return "fatal"
	case ErrorClassBusiness:
		return "business"
	}
	return "unknown"
}

// 播报话术。合成器自身不可用时只能以文字形式下发。
const (
	SpokenTTSFailure = "(语音合成失败)"
	SpokenASRFailure = "(语音识别失败)"
)

// ErrTurnAborted 当前轮被打断
var ErrTurnAborted = errors.New("turn aborted")

// SessionError 带分级和播报话术的会话错误
type SessionError struct {
	Class  ErrorClass
	Op     string
	Spoken string
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Class, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Classify 归类一个错误。设备未绑定属于业务错误，
// 连接断开属于致命错误，其余按恢复级处理。
func Classify(op string, err error) *SessionError {
	var bindErr *manage.DeviceBindError
	if errors.As(err, &bindErr) {
		return &SessionError{Class: ErrorClassBusiness, Op: op, Err: err}
	}
	if errors.Is(err, manage.ErrDeviceNotFound) {
		return &SessionError{Class: ErrorClassBusiness, Op: op, Err: err}
	}
	if isNormalCloseError(err) {
		return &SessionError{Class: ErrorClassFatal, Op: op, Err: err}
	}
	return &SessionError{Class: ErrorClassRecoverable, Op: op, Err: err}
}

// isNormalCloseError 判断是否是正常的连接关闭
func isNormalCloseError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}
