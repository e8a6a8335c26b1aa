package utils

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	wav "github.com/youpy/go-wav"
)

// WritePCMToWav 将 16-bit 小端 PCM 写成 WAV 文件
func WritePCMToWav(path string, pcm []byte, sampleRate int, channels int) error {
	if len(pcm) == 0 {
		return fmt.Errorf("empty pcm data")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create wav dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav file: %w", err)
	}
	defer f.Close()

	numSamples := uint32(len(pcm) / 2 / channels)
	w := wav.NewWriter(f, numSamples, uint16(channels), uint32(sampleRate), 16)
	if _, err := w.Write(pcm); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	return nil
}

// PCMToWavBytes 在内存里把 16-bit 小端 PCM 包成 WAV
func PCMToWavBytes(pcm []byte, sampleRate int, channels int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("empty pcm data")
	}
	var buf bytes.Buffer
	numSamples := uint32(len(pcm) / 2 / channels)
	w := wav.NewWriter(&buf, numSamples, uint16(channels), uint32(sampleRate), 16)
	if _, err := w.Write(pcm); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadWavPCM 读取 WAV 文件，返回 PCM 数据和采样率
func ReadWavPCM(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav file: %w", err)
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return nil, 0, fmt.Errorf("read wav format: %w", err)
	}

	pcm, err := io.ReadAll(r)
	if err != nil && err != io.EOF {
		return nil, 0, fmt.Errorf("read wav data: %w", err)
	}
	return pcm, int(format.SampleRate), nil
}
