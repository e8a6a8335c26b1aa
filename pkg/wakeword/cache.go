package wakeword

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/synthesizer"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/utils"
)

// 唤醒应答话术。每次后台刷新随机挑一条，避免设备每次唤醒都听到同一句。
var responses = []string{
	"我一直都在呢，您请说。",
	"在的呢，请随时吩咐我。",
	"来啦来啦，请告诉我吧。",
	"您请说，我正听着。",
	"请您讲话，我准备好了。",
	"请您说出指令吧。",
	"我认真听着呢，请讲。",
	"请问您需要什么帮助？",
	"我在这里，等候您的指令。",
}

const (
	defaultResponseText = "我在这里哦！"
	defaultResponseFile = "wakeup_words_short.wav"
	indexFileName       = "index.json"
)

// Entry 一个音色的唤醒应答缓存
type Entry struct {
	FilePath string    `json:"file_path"`
	Text     string    `json:"text"`
	Time     time.Time `json:"time"`
}

// Config 唤醒词缓存配置
type Config struct {
	AssetsDir   string
	RefreshTime time.Duration
}

// Cache 唤醒词应答缓存：voiceID -> 预合成的应答音频。
// 查询永远立刻返回（过期也先用旧的），刷新在后台做，
// 每个音色同时最多一个刷新任务。
type Cache struct {
	config Config
	tts    synthesizer.Oneshot
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	// 每个音色一把刷新锁，防止并发重复合成
	refreshMu  sync.Mutex
	refreshing map[string]bool
}

// NewCache 创建缓存并加载持久化的索引
func NewCache(config Config, tts synthesizer.Oneshot, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RefreshTime <= 0 {
		config.RefreshTime = 10 * time.Second
	}
	if err := os.MkdirAll(config.AssetsDir, 0o755); err != nil {
		return nil, err
	}
	c := &Cache{
		config:     config,
		tts:        tts,
		logger:     logger,
		entries:    make(map[string]*Entry),
		refreshing: make(map[string]bool),
	}
	c.loadIndex()
	return c, nil
}

// Lookup 取某个音色的唤醒应答。没有缓存时返回默认应答，
// 条目过期会触发一次后台刷新，但本次查询立即返回现有内容。
func (c *Cache) Lookup(voiceID string) Entry {
	c.mu.RLock()
	entry, ok := c.entries[voiceID]
	c.mu.RUnlock()

	if ok {
		if time.Since(entry.Time) > c.config.RefreshTime {
			go c.refresh(voiceID)
		}
		return *entry
	}

	go c.refresh(voiceID)
	return Entry{
		FilePath: filepath.Join(c.config.AssetsDir, defaultResponseFile),
		Text:     defaultResponseText,
	}
}

// refresh 后台刷新某个音色的应答音频，同一音色只允许一个在飞
func (c *Cache) refresh(voiceID string) {
	c.refreshMu.Lock()
	if c.refreshing[voiceID] {
		c.refreshMu.Unlock()
		return
	}
	c.refreshing[voiceID] = true
	c.refreshMu.Unlock()

	defer func() {
		c.refreshMu.Lock()
		delete(c.refreshing, voiceID)
		c.refreshMu.Unlock()
	}()

	if c.tts == nil {
		return
	}

	text := responses[rand.Intn(len(responses))]
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pcm, sampleRate, err := c.tts.SynthesizeAll(ctx, text)
	if err != nil {
		c.logger.Warn("[Wakeword] 应答合成失败",
			zap.String("voiceID", voiceID),
			zap.Error(err))
		return
	}
	if len(pcm) == 0 {
		return
	}

	fileName := voiceID + "-" + uuid.NewString()[:8] + ".wav"
	path := filepath.Join(c.config.AssetsDir, fileName)
	if err := utils.WritePCMToWav(path, pcm, sampleRate, 1); err != nil {
		c.logger.Warn("[Wakeword] 写应答文件失败", zap.Error(err))
		return
	}

	c.mu.Lock()
	old := c.entries[voiceID]
	c.entries[voiceID] = &Entry{FilePath: path, Text: text, Time: time.Now()}
	c.mu.Unlock()

	// 旧文件不再被引用，直接清掉
	if old != nil && old.FilePath != path {
		_ = os.Remove(old.FilePath)
	}

	c.saveIndex()
	c.logger.Info("[Wakeword] 应答已刷新",
		zap.String("voiceID", voiceID),
		zap.String("text", text))
}

// Responses 返回应答话术列表
func Responses() []string {
	out := make([]string, len(responses))
	copy(out, responses)
	return out
}

// Len 当前缓存的音色数
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) indexPath() string {
	return filepath.Join(c.config.AssetsDir, indexFileName)
}

func (c *Cache) loadIndex() {
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		return
	}
	var entries map[string]*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		c.logger.Warn("[Wakeword] 索引文件损坏，忽略", zap.Error(err))
		return
	}
	// 指向的文件不存在的条目直接丢掉
	for id, e := range entries {
		if _, err := os.Stat(e.FilePath); err != nil {
			delete(entries, id)
		}
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

func (c *Cache) saveIndex() {
	c.mu.RLock()
	data, err := json.MarshalIndent(c.entries, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return
	}
	if err := os.WriteFile(c.indexPath(), data, 0o644); err != nil {
		c.logger.Warn("[Wakeword] 写索引失败", zap.Error(err))
	}
}
