package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/config"
	"github.com/poultry-farm/shellcache/internal/host"
	"github.com/poultry-farm/shellcache/internal/logging"
	"github.com/poultry-farm/shellcache/internal/metrics"
	"github.com/poultry-farm/shellcache/internal/server"
	"github.com/poultry-farm/shellcache/internal/server/routes"
	"github.com/poultry-farm/shellcache/internal/upstream"
	"github.com/poultry-farm/shellcache/internal/version"
	"github.com/poultry-farm/shellcache/internal/worker"
)

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

	logger, err := logging.InitLogger(cfg.Global, cfg.Worker.CacheVersion)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["precache"] = len(cfg.Worker.Precache)
		fields["storage"] = cfg.StorageSummary()
		fields["origin"] = cfg.EffectiveOrigin()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存存储 → 上游 Fetcher → worker → host → Fiber server。
	storage, err := cache.NewStorage(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	origin := cfg.EffectiveOrigin()
	fetcher, err := upstream.New(origin, cfg.Global.Upstream, cfg.Global.UpstreamTimeout.DurationValue(), logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化上游失败: %v\n", err)
		return 1
	}

	clients := host.NewClientRegistry()
	notifications := host.NewNotificationCenter()

	w, err := worker.New(worker.Options{
		Version:     cfg.Worker.CacheVersion,
		Origin:      origin,
		Precache:    cfg.Worker.Precache,
		OfflinePage: cfg.Worker.OfflinePage,
		SyncTag:     cfg.Worker.SyncTag,
		Notification: worker.NotificationOptions{
			Icon:    cfg.Notification.Icon,
			Badge:   cfg.Notification.Badge,
			Vibrate: cfg.Notification.Vibrate,
		},
		Storage:  storage,
		Fetcher:  fetcher,
		Clients:  clients,
		Notifier: notifications,
		Sync:     host.NewSyncRoutine(origin, cfg.Worker.SyncPath, cfg.Worker.SyncDelay.DurationValue(), fetcher),
		Logger:   logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 worker 失败: %v\n", err)
		return 1
	}

	h, err := host.New(host.Options{
		Worker:           w,
		Network:          fetcher,
		Storage:          storage,
		Clients:          clients,
		Notifications:    notifications,
		Logger:           logger,
		MaxRetries:       cfg.Global.MaxRetries,
		InitialBackoff:   cfg.Global.InitialBackoff.DurationValue(),
		AllowPassthrough: cfg.Global.AllowPassthrough,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 host 失败: %v\n", err)
		return 1
	}
	defer h.Close()

	metrics.Init()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = origin
	fields["upstream"] = cfg.Global.Upstream
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage"] = cfg.StorageSummary()
	fields["precache"] = len(cfg.Worker.Precache)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// install 失败不阻止启动：worker 进入 redundant，请求直连上游。
	if err := h.Start(ctx); err != nil {
		logger.WithFields(logging.BaseFields("install", opts.configPath)).WithError(err).Warn("worker 未激活")
	}

	if err := startHTTPServer(ctx, cfg, h, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("shellcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SHELLCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SHELLCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, h *host.Host, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    h,
		ListenPort: port,
		Origin:     cfg.EffectiveOrigin(),
		Version:    cfg.Worker.CacheVersion,
	})
	if err != nil {
		return err
	}
	routes.RegisterControlRoutes(app, h, cfg.Worker.SyncTag)

	go func() {
		<-ctx.Done()
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("Fiber 服务停止")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
