package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的前缀，例如 PKGCDN_LISTENPORT。
const EnvPrefix = "PKGCDN"

// DefaultRegistryURL 指向公共 npm Registry。
const DefaultRegistryURL = "https://registry.npmjs.org"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// path 为空时仅使用默认值与环境变量，便于零配置启动。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFormat", "json")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("RegistryURL", DefaultRegistryURL)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("MetadataCacheSize", 40*1024*1024)
	v.SetDefault("MetadataCacheShards", 16)
	v.SetDefault("PositiveTTL", "1m")
	v.SetDefault("NegativeTTL", "5m")
	v.SetDefault("CoalesceFetches", true)
	v.SetDefault("MaxFileSize", 0)
	v.SetDefault("PublicDir", "")
	v.SetDefault("EnableCORS", true)
}

// bindEnv 打开 PKGCDN_* 自动覆盖，并保留 NPM_REGISTRY_URL 这一历史变量名。
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	if err := v.BindEnv("RegistryURL", EnvPrefix+"_REGISTRYURL", "NPM_REGISTRY_URL"); err != nil {
		return fmt.Errorf("绑定环境变量失败: %w", err)
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
	if strings.TrimSpace(g.RegistryURL) == "" {
		g.RegistryURL = DefaultRegistryURL
	}
	g.RegistryURL = g.RegistryBase()
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.MetadataCacheShards == 0 {
		g.MetadataCacheShards = 16
	}
	if g.PositiveTTL.DurationValue() == 0 {
		g.PositiveTTL = Duration(time.Minute)
	}
	if g.NegativeTTL.DurationValue() == 0 {
		g.NegativeTTL = Duration(5 * time.Minute)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
