package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"scorecard/config"
	"scorecard/db"
	schttp "scorecard/http"
	"scorecard/logging"
	"scorecard/ml"
	"scorecard/risk"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default: config.yaml if present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. 加载配置，cmd/ 下运行时也能找到根目录的 config.yaml
	if configPath == "" {
		configPath = findConfig()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 2. 加载评分卡，失败时直接退出
	build := serviceBuilder(cfg, logger)
	bundle, err := loadBundle(cfg)
	if err != nil {
		return err
	}
	svc, err := build(bundle)
	if err != nil {
		return fmt.Errorf("build scoring service: %w", err)
	}
	info := svc.Info()
	logger.Info("scorecard loaded",
		zap.String("name", info.Name),
		zap.String("source", info.Source),
		zap.String("risk_scheme", info.RiskScheme),
		zap.Int("features", len(info.FeaturesUsed)),
		zap.String("fingerprint", info.Fingerprint),
	)
	holder := risk.NewHolder(svc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 文件模型支持热加载
	if cfg.Model.Source == config.SourceFile && cfg.Model.Watch {
		watcher := risk.NewWatcher(cfg.Model.Path, holder, build, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("bundle watcher stopped", zap.Error(err))
			}
		}()
	}

	// 4. 训练记录库
	handlerCfg := schttp.HandlerConfig{
		CacheSize:      cfg.Cache.Size,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Logger:         logger,
	}
	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
		store, err := db.Open(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		handlerCfg.Store = store
		logger.Info("training log opened", zap.String("path", cfg.Database.Path))
	}

	// 5. 启动HTTP服务器
	handler, err := schttp.NewHandler(holder, handlerCfg)
	if err != nil {
		return err
	}
	server := schttp.NewServer(schttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. 优雅关闭
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
	return nil
}

func findConfig() string {
	for _, path := range []string{"config.yaml", filepath.Join("..", "config.yaml")} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadBundle(cfg *config.Config) (*ml.Bundle, error) {
	if cfg.Model.Source == config.SourceBuiltin {
		return ml.NotebookBundle(), nil
	}
	bundle, err := ml.LoadBundle(cfg.Model.Path)
	if err != nil {
		return nil, fmt.Errorf("load scorecard %s: %w", cfg.Model.Path, err)
	}
	return bundle, nil
}

func serviceBuilder(cfg *config.Config, logger *zap.Logger) risk.BuildFunc {
	source := cfg.Model.Path
	if cfg.Model.Source == config.SourceBuiltin {
		source = config.SourceBuiltin
	}
	return func(b *ml.Bundle) (*risk.Service, error) {
		return risk.NewService(b,
			risk.WithLogger(logger),
			risk.WithRiskScheme(cfg.Model.RiskScheme),
			risk.WithSource(source),
		)
	}
}
