package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志、上游 Registry 与元数据缓存策略。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFormat     string `mapstructure:"LogFormat"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	// RegistryURL 是上游 npm Registry 根地址，tarball 与 packument 均从这里拉取。
	RegistryURL     string   `mapstructure:"RegistryURL"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`

	// MetadataCacheSize 以序列化后的字节数计量，而不是条目数。
	MetadataCacheSize   int64    `mapstructure:"MetadataCacheSize"`
	MetadataCacheShards int      `mapstructure:"MetadataCacheShards"`
	PositiveTTL         Duration `mapstructure:"PositiveTTL"`
	NegativeTTL         Duration `mapstructure:"NegativeTTL"`
	CoalesceFetches     bool     `mapstructure:"CoalesceFetches"`

	// MaxFileSize 限制单个被选中文件的缓冲大小，0 表示不限制。
	MaxFileSize int64  `mapstructure:"MaxFileSize"`
	PublicDir   string `mapstructure:"PublicDir"`
	EnableCORS  bool   `mapstructure:"EnableCORS"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// RegistryBase 返回去掉结尾斜杠的 Registry 地址，便于直接拼接路径。
func (g GlobalConfig) RegistryBase() string {
	return strings.TrimRight(strings.TrimSpace(g.RegistryURL), "/")
}
