package hardware

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/cache"
)

const ipInfoURL = "https://ipapi.co/%s/json/"

// IPLocator 设备 IP 归属地查询。结果进 LRU 备忘缓存，
// 重启前不过期；查询失败不影响会话，只是提示词里少一段位置信息。
type IPLocator struct {
	memo   *cache.Memo[string]
	http   *resty.Client
	logger *zap.Logger
}

// NewIPLocator creates an IP geolocation lookup with a process-wide memo
func NewIPLocator(logger *zap.Logger) *IPLocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	memo, err := cache.NewMemo[string](512)
	if err != nil {
		// 只有 size<=0 才会出错，这里不可能
		panic(err)
	}
	return &IPLocator{
		memo:   memo,
		http:   resty.New().SetTimeout(3 * time.Second),
		logger: logger,
	}
}

// Lookup 查询 IP 归属地，返回形如 "浙江省杭州市" 的描述。
// 内网地址直接返回本地网络，查不到返回空串。
func (l *IPLocator) Lookup(ctx context.Context, ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return "本地网络"
	}

	if loc, ok := l.memo.Get(ip); ok {
		return loc
	}

	var result struct {
		Country string `json:"country_name"`
		Region  string `json:"region"`
		City    string `json:"city"`
	}
	resp, err := l.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf(ipInfoURL, ip))
	if err != nil || resp.IsError() {
		l.logger.Debug("[IPInfo] 归属地查询失败", zap.String("ip", ip), zap.Error(err))
		return ""
	}

	loc := result.Country + result.Region + result.City
	if loc != "" {
		l.memo.Set(ip, loc)
	}
	return loc
}
