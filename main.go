package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkgcdn/internal/cache"
	"github.com/any-hub/pkgcdn/internal/config"
	"github.com/any-hub/pkgcdn/internal/logging"
	"github.com/any-hub/pkgcdn/internal/proxy"
	"github.com/any-hub/pkgcdn/internal/registry"
	"github.com/any-hub/pkgcdn/internal/server"
	"github.com/any-hub/pkgcdn/internal/server/routes"
	"github.com/any-hub/pkgcdn/internal/version"
)

// defaultConfigPath 存在时作为隐式配置文件；不存在则仅使用默认值与环境变量。
const defaultConfigPath = "config.toml"

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["registry"] = cfg.Global.RegistryBase()
		fields["metadata_cache_bytes"] = cfg.Global.MetadataCacheSize
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 元数据缓存 → Registry 客户端 → 包处理器 → Fiber server”，
	// 所有请求共享同一个缓存与合并拉取的客户端。
	app, err := buildApp(cfg, logger, time.Now())
	if err != nil {
		fmt.Fprintf(stdErr, "构建服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["registry"] = cfg.Global.RegistryBase()
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 组装完整的请求链路，测试可以直接对返回的 app 调用 Test。
func buildApp(cfg *config.Config, logger *logrus.Logger, started time.Time) (*fiber.App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	global := cfg.Global

	store, err := cache.NewMemoryStore(cache.Options{
		MaxBytes: global.MetadataCacheSize,
		Shards:   global.MetadataCacheShards,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化元数据缓存失败: %w", err)
	}
	policy := cache.Policy{
		PositiveTTL: global.PositiveTTL.DurationValue(),
		NegativeTTL: global.NegativeTTL.DurationValue(),
	}

	client, err := registry.NewClient(registry.ClientOptions{
		BaseURL:    global.RegistryBase(),
		HTTPClient: server.NewUpstreamClient(cfg),
		Logger:     logger,
		Coalesce:   global.CoalesceFetches,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 Registry 客户端失败: %w", err)
	}

	resolver := registry.NewResolver(client, store, policy, logger)
	handler := proxy.NewHandler(resolver, client, logger, global.MaxFileSize)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		ListenPort: global.ListenPort,
		PublicDir:  global.PublicDir,
		EnableCORS: global.EnableCORS,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterStatusRoutes(app, routes.StatusSource{
		RegistryURL: client.BaseURL(),
		Cache:       store,
		Policy:      cache.NewPolicyWriter(store, policy).Policy(),
		Started:     started,
	})
	return app, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 优先级：-config > PKGCDN_CONFIG > 当前目录下存在的 config.toml > 仅默认值与环境变量。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("pkgcdn", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PKGCDN_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PKGCDN_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
