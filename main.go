package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tilehub/internal/composite"
	"github.com/any-hub/tilehub/internal/config"
	"github.com/any-hub/tilehub/internal/layer"
	"github.com/any-hub/tilehub/internal/logging"
	"github.com/any-hub/tilehub/internal/metrics"
	"github.com/any-hub/tilehub/internal/server"
	"github.com/any-hub/tilehub/internal/server/routes"
	"github.com/any-hub/tilehub/internal/version"
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

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	catalog, err := layer.NewCatalog(cfg.Layers)
	if err != nil {
		fmt.Fprintf(stdErr, "构建图层目录失败: %v\n", err)
		return 1
	}

	// -check-config 只做配置层面的校验，不实例化任何后端。
	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["layers"] = len(catalog.List())
		fields["stores"] = config.StoreSummaries(cfg.BlobStores)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	svc, err := buildService(cfg, catalog, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化存储路由失败: %v\n", err)
		return 1
	}
	defer svc.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["layers"] = len(catalog.List())
	fields["stores"] = config.StoreSummaries(cfg.BlobStores)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.serve(ctx, cfg.Global); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("tilehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 TILEHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("TILEHUB_CONFIG")
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

// service 聚合启动后需要统一关闭的组件。
type service struct {
	app    *fiber.App
	router *composite.BlobStore
	logger *logrus.Logger
}

// buildService 遵循“配置 → 图层目录 → 指标 → 存储路由 → Fiber app”顺序组装服务，
// 失败时已创建的后端由 composite.New 自行回收。
func buildService(cfg *config.Config, catalog *layer.Catalog, logger *logrus.Logger) (*service, error) {
	reg := metrics.NewRegistry()

	router, err := composite.New(composite.Options{
		Layers:        catalog,
		StorageFinder: config.NewStorageFinder(cfg.Global),
		Configs:       cfg.StoreConfigs(),
		Logger:        logger,
		Metrics:       metrics.NewRecorder(reg),
	})
	if err != nil {
		return nil, err
	}

	if err := router.AddListener(logging.NewTileEventLogger(logger)); err != nil {
		_ = router.Destroy()
		return nil, fmt.Errorf("注册事件监听失败: %w", err)
	}

	app, err := newHTTPApp(cfg.Global.ListenPort, router, catalog, reg, logger)
	if err != nil {
		_ = router.Destroy()
		return nil, err
	}

	return &service{app: app, router: router, logger: logger}, nil
}

func newHTTPApp(port int, router *composite.BlobStore, catalog *layer.Catalog, gatherer prometheus.Gatherer, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterStoreRoutes(app, router, catalog)
	routes.RegisterMetricsRoute(app, gatherer)
	return app, nil
}

// serve 启动监听，直到 ctx 结束后按 ShutdownTimeout 优雅退出。
func (r *service) serve(ctx context.Context, g config.GlobalConfig) error {
	errCh := make(chan error, 1)
	go func() {
		r.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   g.ListenPort,
		}).Info("Fiber 服务启动")
		errCh <- r.app.Listen(fmt.Sprintf(":%d", g.ListenPort), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	r.logger.WithField("action", "shutdown").Info("收到退出信号，停止服务")
	if err := r.app.ShutdownWithTimeout(g.ShutdownTimeout.DurationValue()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// close 销毁全部后端；重复调用安全。
func (r *service) close() {
	_ = r.router.Destroy()
}
