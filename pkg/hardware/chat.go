package hardware

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/llm"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/manage"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media/encoder"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/recognizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/synthesizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/utils"
)

// 合成音频断流的上限。合成器自己有重试，
// 超过这个时间基本是任务挂了，放弃剩下的音频。
const sentenceAudioTimeout = 30 * time.Second

// speech 一轮播报对应的一个合成会话。第一句到达时才起任务，
// 后续句子增量推进同一个任务，句间边界靠 sentence_start/end
// 消息标出。整轮共用一个 sentence_id 做打断围栏。
type speech struct {
	sess *Session
	ctx  context.Context

	sid      string
	started  bool
	lastText string

	// 收帧协程退出时关闭
	done chan struct{}
}

func (s *Session) newSpeech(ctx context.Context) *speech {
	return &speech{sess: s, ctx: ctx, done: make(chan struct{})}
}

// push 送一句文本进本轮合成。返回非 nil 表示本轮被打断，
// 合成本身的失败只记日志，文本照常下发。
func (sp *speech) push(text string) error {
	s := sp.sess
	select {
	case <-sp.ctx.Done():
		return ErrTurnAborted
	case <-s.closeChan:
		return ErrTurnAborted
	default:
	}
	if sp.started && !s.state.IsSentenceActive(sp.sid) {
		return ErrTurnAborted
	}

	if sp.lastText != "" {
		s.writer.SendTTSSentenceEnd(sp.lastText)
	}
	s.writer.SendTTSSentenceStart(text)
	sp.lastText = text

	if sp.sid == "" {
		sp.sid = s.state.NewSentence(s.sessionID())
	}
	if !sp.started {
		if err := s.tts.StartSession(sp.ctx, sp.sid); err != nil {
			s.logger.Warn("[Session] 合成会话启动失败",
				zap.String("sentenceID", sp.sid), zap.Error(err))
			return nil
		}
		sp.started = true
		go sp.drain()
	}
	if err := s.tts.PushText(text); err != nil {
		s.logger.Warn("[Session] 推送合成文本失败", zap.Error(err))
	}
	return nil
}

// drain 把本轮合成帧搬进写出口，直到结束帧或被打断
func (sp *speech) drain() {
	defer close(sp.done)
	s := sp.sess
	idle := time.NewTimer(sentenceAudioTimeout)
	defer idle.Stop()
	for {
		select {
		case frame, ok := <-s.tts.Frames():
			if !ok {
				return
			}
			if frame.SentenceID != sp.sid {
				// 上一轮的残帧
				continue
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(sentenceAudioTimeout)
			if frame.Marker == synthesizer.MarkerLast {
				return
			}
			if !s.state.IsSentenceActive(sp.sid) {
				return
			}
			s.writer.EnqueueTTSFrame(sp.sid, frame.Opus)
		case <-sp.ctx.Done():
			return
		case <-s.closeChan:
			return
		case <-idle.C:
			s.logger.Warn("[Session] 等待合成音频超时",
				zap.String("sentenceID", sp.sid))
			return
		}
	}
}

// finish 收尾合成任务并等最后一帧入队。返回非 nil 表示被打断。
func (sp *speech) finish() error {
	s := sp.sess
	if !sp.started {
		if sp.lastText != "" {
			s.writer.SendTTSSentenceEnd(sp.lastText)
		}
		return nil
	}
	if err := s.tts.FinishSession(sp.ctx); err != nil {
		s.logger.Warn("[Session] 合成收尾失败",
			zap.String("sentenceID", sp.sid), zap.Error(err))
	}
	select {
	case <-sp.done:
	case <-sp.ctx.Done():
		return ErrTurnAborted
	case <-s.closeChan:
		return ErrTurnAborted
	}
	if !s.state.IsSentenceActive(sp.sid) {
		return ErrTurnAborted
	}
	if sp.lastText != "" {
		s.writer.SendTTSSentenceEnd(sp.lastText)
	}
	return nil
}

// cancelTask 丢弃还在跑的合成任务，打断时调用
func (sp *speech) cancelTask() {
	if sp.started {
		sp.sess.tts.Cancel()
	}
}

// dispatchTurn 一轮完整的对话派发：回显识别文本、进历史、上报，
// 然后把模型流切句送进本轮的合成会话。被打断时立即停止。
// 识别文本本身就是唤醒词时短路模型，直接播应答。
func (s *Session) dispatchTurn(res recognizer.Result) {
	defer s.state.EndTurn()

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	s.setTurnCancel(cancel)
	defer func() {
		s.setTurnCancel(nil)
		cancel()
	}()

	s.state.Set(StateDispatching)
	s.writer.SendSTT(res.Content)

	if s.matchWakeWord(res.Content) {
		s.logger.Info("[Session] 识别文本命中唤醒词",
			zap.String("sessionID", s.sessionID()),
			zap.String("text", res.Content))
		s.respondWakeWord(res.Content)
		return
	}

	s.history.AppendUser(res.Content, res.Speaker)
	s.reportUserTurn(res.Content)

	s.logger.Info("[Session] 收到用户指令",
		zap.String("sessionID", s.sessionID()),
		zap.String("content", utils.TruncateRunes(res.Content, 50)),
		zap.String("speaker", res.Speaker))

	deltas, err := s.llm.ChatStream(ctx, s.llmMessages())

	s.state.Set(StateSpeaking)
	s.writer.ResetFlowControl()
	s.writer.SendTTSStart()

	sp := s.newSpeech(ctx)
	var full strings.Builder
	aborted := false

	if err != nil {
		s.logger.Error("[Session] 模型调用失败", zap.Error(err))
		full.WriteString(llm.FallbackReply)
		aborted = sp.push(llm.FallbackReply) != nil
	} else {
		seg := NewSegmenter()
	stream:
		for delta := range deltas {
			if delta.Err != nil {
				s.logger.Error("[Session] 模型流中断", zap.Error(delta.Err))
				if full.Len() == 0 {
					full.WriteString(llm.FallbackReply)
					aborted = sp.push(llm.FallbackReply) != nil
				}
				break stream
			}
			if delta.Content != "" {
				full.WriteString(delta.Content)
				for _, sentence := range seg.Feed(delta.Content) {
					if sp.push(sentence) != nil {
						aborted = true
						break stream
					}
				}
			}
			if delta.Done {
				break
			}
		}
		if !aborted {
			if rest := seg.Flush(); rest != "" {
				aborted = sp.push(rest) != nil
			}
		}
	}

	if !aborted {
		aborted = sp.finish() != nil
	}
	if aborted {
		sp.cancelTask()
	} else {
		s.writer.SendTTSStop()
	}

	reply := full.String()
	if reply != "" {
		s.history.AppendAssistant(reply)
		s.reportAssistantTurn(reply)
	}

	// 被打断时 abortSpeaking 已经重新安排了收音
	if !aborted {
		s.rearmOrIdle()
	}
}

// speakText 独立播报一段文本，绑定码、提示语这类轮次外的话术用
func (s *Session) speakText(ctx context.Context, text string) {
	prev := s.state.Get()
	if prev == StateTerminated {
		return
	}
	s.state.Set(StateSpeaking)
	s.writer.ResetFlowControl()
	s.writer.SendTTSStart()

	sp := s.newSpeech(ctx)
	if sp.push(text) != nil || sp.finish() != nil {
		sp.cancelTask()
	}
	s.writer.SendTTSStop()
	if s.state.Get() == StateSpeaking {
		s.state.Set(prev)
	}
}

// matchWakeWord 识别终文去掉标点后是否恰好是一个配置的唤醒词
func (s *Session) matchWakeWord(text string) bool {
	stripped, n := utils.RemovePunctuation(text)
	if n == 0 {
		return false
	}
	for _, w := range s.cfg.Wakeword.Words {
		if word, _ := utils.RemovePunctuation(w); word == stripped {
			return true
		}
	}
	return false
}

// handleWakeWord 设备侧唤醒上报（listen detect）：打断当前播报，
// 换新会话 id 开新一轮，直接播应答。
func (s *Session) handleWakeWord(text string) {
	if s.state.Is(StateSpeaking, StateDispatching) {
		s.abortSpeaking("wake word")
	}
	s.rotateSessionID()
	s.logger.Info("[Session] 唤醒词命中",
		zap.String("sessionID", s.sessionID()), zap.String("text", text))
	s.respondWakeWord(text)
}

// respondWakeWord 唤醒应答：优先播预合成的缓存，没有就现场合成
func (s *Session) respondWakeWord(text string) {
	replyText := ""
	if s.wakewords != nil {
		entry := s.wakewords.Lookup(s.cfg.TTS.Voice)
		replyText = entry.Text
		if pcm, rate, err := utils.ReadWavPCM(entry.FilePath); err == nil {
			s.playPCM(entry.Text, pcm, rate)
		} else {
			// 应答文件还没生成，现场合成一句
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			s.speakText(ctx, entry.Text)
			cancel()
		}
	} else {
		replyText = "我在"
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		s.speakText(ctx, replyText)
		cancel()
	}

	if text != "" {
		s.history.AppendUser(text, "")
		s.history.AppendAssistant(replyText)
		s.reportUserTurn(text)
		s.reportAssistantTurn(replyText)
	}
	s.rearmOrIdle()
}

// playPCM 把一段 PCM 按协商的编码切帧下发，唤醒应答走这条快路
func (s *Session) playPCM(text string, pcm []byte, sampleRate int) {
	audio := s.negotiatedAudio()

	if sampleRate != audio.SampleRate {
		rs := media.DefaultResampler(sampleRate, audio.SampleRate)
		if _, err := rs.Write(pcm); err != nil {
			s.logger.Warn("[Session] 重采样失败", zap.Error(err))
			return
		}
		pcm = rs.Samples()
	}

	src := media.CodecConfig{
		Codec:         audio.Format,
		SampleRate:    audio.SampleRate,
		Channels:      1,
		BitDepth:      16,
		FrameDuration: strconv.Itoa(audio.FrameDuration),
	}
	pcmCfg := src
	pcmCfg.Codec = "pcm"
	enc, err := encoder.CreateEncode(src, pcmCfg)
	if err != nil {
		s.logger.Warn("[Session] 创建编码器失败", zap.Error(err))
		return
	}

	sid := s.state.NewSentence(s.sessionID())
	s.state.Set(StateSpeaking)
	s.writer.ResetFlowControl()
	s.writer.SendTTSStart()
	s.writer.SendTTSSentenceStart(text)

	for _, pkt := range media.SplitFrames(pcm, &pcmCfg) {
		if !s.state.IsSentenceActive(sid) {
			break
		}
		outs, err := enc(pkt)
		if err != nil {
			s.logger.Warn("[Session] 编码失败", zap.Error(err))
			break
		}
		for _, out := range outs {
			s.writer.EnqueueTTSFrame(sid, out.Body())
		}
	}
	if outs, err := enc(nil); err == nil {
		for _, out := range outs {
			s.writer.EnqueueTTSFrame(sid, out.Body())
		}
	}

	s.writer.SendTTSSentenceEnd(text)
	s.writer.SendTTSStop()
	if s.state.Get() == StateSpeaking {
		s.state.Set(StateIdle)
	}
}

// llmMessages 历史快照转成模型输入
func (s *Session) llmMessages() []llm.Message {
	msgs := s.history.Messages()
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}
	return out
}

// reportUserTurn 上报用户侧对话，附带本轮音频
func (s *Session) reportUserTurn(content string) {
	if s.reporter == nil {
		return
	}
	record := &manage.ChatRecord{
		MacAddress: s.deviceID,
		SessionID:  s.sessionID(),
		ChatType:   1,
		Content:    content,
	}
	if pcm := s.takeTurnPCM(); len(pcm) > 0 {
		audio := s.negotiatedAudio()
		if wavData, err := utils.PCMToWavBytes(pcm, audio.SampleRate, 1); err == nil {
			record.AudioBase64 = base64.StdEncoding.EncodeToString(wavData)
			if s.audioCache != nil {
				_ = s.audioCache.Set(context.Background(), "audio:"+s.sessionID(), wavData, 10*time.Minute)
			}
		}
	}
	s.reporter.Enqueue(record)
}

// reportAssistantTurn 上报助手侧对话
func (s *Session) reportAssistantTurn(content string) {
	if s.reporter == nil {
		return
	}
	s.reporter.Enqueue(&manage.ChatRecord{
		MacAddress: s.deviceID,
		SessionID:  s.sessionID(),
		ChatType:   2,
		Content:    content,
	})
}
