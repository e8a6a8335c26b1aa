package wakeword

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingTTS 记录合成次数的测试桩
type countingTTS struct {
	calls atomic.Int32
	pcm   []byte
}

func (c *countingTTS) SynthesizeAll(ctx context.Context, text string) ([]byte, int, error) {
	c.calls.Add(1)
	return c.pcm, 16000, nil
}

func newTestCache(t *testing.T, tts *countingTTS) *Cache {
	t.Helper()
	c, err := NewCache(Config{
		AssetsDir:   t.TempDir(),
		RefreshTime: 10 * time.Second,
	}, tts, nil)
	require.NoError(t, err)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func TestLookupMissReturnsDefault(t *testing.T) {
	tts := &countingTTS{pcm: make([]byte, 3200)}
	c := newTestCache(t, tts)

	entry := c.Lookup("voice-1")
	assert.Equal(t, "我在这里哦！", entry.Text)

	// 未命中会触发后台刷新
	waitFor(t, func() bool { return c.Len() == 1 })

	refreshed := c.Lookup("voice-1")
	assert.NotEqual(t, "我在这里哦！", refreshed.Text)
	assert.Contains(t, Responses(), refreshed.Text)
	assert.FileExists(t, refreshed.FilePath)
}

func TestFreshEntryNotRefreshed(t *testing.T) {
	tts := &countingTTS{pcm: make([]byte, 3200)}
	c := newTestCache(t, tts)

	c.Lookup("voice-1")
	waitFor(t, func() bool { return tts.calls.Load() == 1 })

	// 没过期的条目不再刷新
	for i := 0; i < 5; i++ {
		c.Lookup("voice-1")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), tts.calls.Load())
}

func TestStaleEntryRefreshedOnce(t *testing.T) {
	tts := &countingTTS{pcm: make([]byte, 3200)}
	c, err := NewCache(Config{
		AssetsDir:   t.TempDir(),
		RefreshTime: time.Millisecond, // 立刻过期
	}, tts, nil)
	require.NoError(t, err)

	c.Lookup("voice-1")
	waitFor(t, func() bool { return tts.calls.Load() >= 1 })
	time.Sleep(10 * time.Millisecond)

	// 过期后并发查询只触发有限次刷新（每次在飞最多一个）
	before := tts.calls.Load()
	for i := 0; i < 20; i++ {
		c.Lookup("voice-1")
	}
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, tts.calls.Load()-before, int32(2))
}

func TestIndexPersistence(t *testing.T) {
	dir := t.TempDir()
	tts := &countingTTS{pcm: make([]byte, 3200)}

	c1, err := NewCache(Config{AssetsDir: dir, RefreshTime: 10 * time.Second}, tts, nil)
	require.NoError(t, err)
	c1.Lookup("voice-1")
	waitFor(t, func() bool { return c1.Len() == 1 })
	want := c1.Lookup("voice-1")

	// 重新加载索引，条目还在
	c2, err := NewCache(Config{AssetsDir: dir, RefreshTime: 10 * time.Second}, tts, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, c2.Len())
	got := c2.Lookup("voice-1")
	assert.Equal(t, want.Text, got.Text)
	assert.Equal(t, want.FilePath, got.FilePath)
}

func TestResponsesList(t *testing.T) {
	rs := Responses()
	assert.Len(t, rs, 9)
	// 返回的是副本
	rs[0] = "改掉"
	assert.NotEqual(t, "改掉", Responses()[0])
}
