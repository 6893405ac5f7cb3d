package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/any-hub/catcache/internal/cache"
	"github.com/any-hub/catcache/internal/config"
	"github.com/any-hub/catcache/internal/logging"
	"github.com/any-hub/catcache/internal/metrics"
	"github.com/any-hub/catcache/internal/origin"
	"github.com/any-hub/catcache/internal/proxy"
	"github.com/any-hub/catcache/internal/server"
	"github.com/any-hub/catcache/internal/version"
)

// configEnv 指定配置文件路径的环境变量，优先级低于 --config。
const configEnv = "CATCACHE_CONFIG"

const shutdownTimeout = 10 * time.Second

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	flags       *pflag.FlagSet
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

	cfg, err := config.Load(opts.configPath, opts.flags)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["listen"] = cfg.ListenAddress()
		fields["storage"] = cfg.StorageBackend
		fields["mode"] = cfg.Mode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序为 “配置 → 存储 → 回源 → Coordinator → Fiber server”，任一步失败即非零退出。
	app, recorder, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen"] = cfg.ListenAddress()
	fields["storage"] = cfg.StorageBackend
	fields["cache_path"] = cfg.CachePath
	fields["origin"] = cfg.OriginURL
	fields["mode"] = cfg.Mode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, app, cfg, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}

	logger.WithFields(logrus.Fields{
		"action":  "shutdown",
		"metrics": recorder.Snapshot(),
	}).Info("服务已退出")
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("catcache", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	config.RegisterFlags(fs)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可选，可被 CATCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if fs.NArg() > 0 {
		return cliOptions{}, fmt.Errorf("解析参数失败: 未知参数 %v", fs.Args())
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		flags:       fs,
	}, nil
}

// buildApp 组装存储、回源、Coordinator 与 Fiber 应用。
func buildApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*fiber.App, *metrics.Recorder, error) {
	store, err := newStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var fetcher origin.Fetcher
	if cfg.OriginEnabled() {
		httpFetcher, err := origin.NewHTTPFetcher(cfg.OriginURL, server.NewUpstreamClient(cfg))
		if err != nil {
			return nil, nil, fmt.Errorf("初始化回源失败: %w", err)
		}
		fetcher = httpFetcher
	}

	recorder := metrics.NewRecorder()
	coordinator, err := proxy.NewCoordinator(proxy.CoordinatorOptions{
		Store:           store,
		Fetcher:         fetcher,
		Logger:          logger,
		Metrics:         recorder,
		CollapseFetches: cfg.CollapseOriginFetches,
	})
	if err != nil {
		return nil, nil, err
	}

	logger.WithFields(logrus.Fields{
		"action":          "coordinator_ready",
		"fetch_enabled":   coordinator.FetchEnabled(),
		"collapse_fetch":  cfg.CollapseOriginFetches,
		"storage_backend": cfg.StorageBackend,
	}).Debug("缓存协调器就绪")

	app, err := server.NewApp(server.AppOptions{
		Logger:            logger,
		Proxy:             proxy.NewHandler(coordinator, logger),
		Metrics:           recorder,
		EnableDiagnostics: cfg.EnableDiagnostics,
		BodyLimit:         cfg.BodyLimit,
	})
	if err != nil {
		return nil, nil, err
	}
	return app, recorder, nil
}

func newStore(ctx context.Context, cfg *config.Config) (cache.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendS3:
		s3Opts := cache.S3Options{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		}
		// 未配置静态凭证时走 AWS 默认凭证链（环境变量、共享配置、实例角色）。
		if cfg.S3.HasStaticCredentials() {
			s3Opts.AccessKey = cfg.S3.AccessKey
			s3Opts.SecretKey = cfg.S3.SecretKey
		}
		client, err := cache.NewS3Client(ctx, s3Opts)
		if err != nil {
			return nil, fmt.Errorf("初始化 S3 客户端失败: %w", err)
		}
		return cache.NewS3Store(client, cfg.S3.Bucket, cfg.S3.Prefix)
	case config.StorageBackendFS, "":
		store, err := cache.NewStore(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// startHTTPServer 阻塞直到 ctx 被取消（SIGINT/SIGTERM），随后在 shutdownTimeout 内优雅退出。
func startHTTPServer(ctx context.Context, app *fiber.App, cfg *config.Config, logger *logrus.Logger) error {
	addr := cfg.ListenAddress()
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   addr,
	}).Info("Fiber 服务启动")

	err := app.Listen(addr, fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
		ShutdownTimeout:       shutdownTimeout,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
