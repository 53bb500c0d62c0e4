package routes

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/pkgcdn/internal/cache"
	"github.com/any-hub/pkgcdn/internal/version"
)

// StatusSource 汇总 /-/status 需要的运行时信息。
type StatusSource struct {
	RegistryURL string
	Cache       cache.Store
	Policy      cache.Policy
	Started     time.Time
}

type statusPayload struct {
	Version       string            `json:"version"`
	Registry      string            `json:"registry"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Cache         *cacheStatPayload `json:"cache,omitempty"`
}

type cacheStatPayload struct {
	cache.Stats
	PositiveTTLSeconds int64 `json:"positive_ttl_seconds"`
	NegativeTTLSeconds int64 `json:"negative_ttl_seconds"`
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，供 SRE 查询版本、Registry 与元数据缓存状态。
func RegisterStatusRoutes(app *fiber.App, src StatusSource) {
	if app == nil {
		return
	}
	if src.Started.IsZero() {
		src.Started = time.Now()
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(encodeStatus(src, time.Now()))
	})
}

func encodeStatus(src StatusSource, now time.Time) statusPayload {
	payload := statusPayload{
		Version:       version.Full(),
		Registry:      src.RegistryURL,
		UptimeSeconds: int64(now.Sub(src.Started) / time.Second),
	}
	if src.Cache != nil {
		payload.Cache = &cacheStatPayload{
			Stats:              src.Cache.Stats(),
			PositiveTTLSeconds: int64(src.Policy.PositiveTTL / time.Second),
			NegativeTTLSeconds: int64(src.Policy.NegativeTTL / time.Second),
		}
	}
	return payload
}
