// Package main Chat Router 服务入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"chat-router/internal/config"
	"chat-router/internal/router/conversation"
	"chat-router/internal/router/customlogic"
	"chat-router/internal/router/engine"
	"chat-router/internal/router/errhandler"
	"chat-router/internal/router/intent"
	"chat-router/internal/router/provider"
	"chat-router/internal/router/selector"
	"chat-router/internal/server"
	"chat-router/internal/shared/infra"
	"chat-router/internal/shared/model"
	"chat-router/pkg/logging"
)

func main() {
	configDirFlag := flag.String("config", "", "配置文件目录（或 YAML 文件路径）")
	flag.Parse()

	// 设置配置目录（复用 config 包的统一路径策略）
	if *configDirFlag != "" {
		dir := *configDirFlag
		// 支持直接指定 YAML 文件路径
		if strings.HasSuffix(dir, ".yaml") || strings.HasSuffix(dir, ".yml") {
			dir = filepath.Dir(dir)
		}
		config.SetConfigDir(dir)
	}

	cfg := config.Load()
	logger := logging.New(logging.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		Component: "router",
	})
	slog.SetDefault(logger.Logger)

	log.Printf("Starting Chat Router... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.Fatalf("Router stopped with error: %v", err)
	}
	fmt.Println("Server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	// 存储、Redis、etcd、MinIO
	inf, err := infra.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init infrastructure: %w", err)
	}
	defer inf.Close()
	log.Printf("Connected to %s and Redis", cfg.DatabaseDriver)

	registry := buildProviders(cfg)
	if registry.Len() == 0 {
		return errors.New("no provider configured")
	}

	rules, err := customlogic.NewRuleEngine(cfg.CustomRules)
	if err != nil {
		return fmt.Errorf("load custom rules: %w", err)
	}

	sel := selector.New(selector.Config{
		Strategy:        selector.StrategyName(cfg.Routing.Strategy),
		FallbackEnabled: cfg.Routing.FallbackEnabled,
	}, logger)

	errs := errhandler.NewHandler(errhandler.Config{
		BreakerEnabled:   cfg.CircuitBreaker.Enabled,
		FallbackEnabled:  cfg.Routing.FallbackEnabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Recovery:         cfg.CircuitBreaker.Recovery,
		CallTimeout:      cfg.CircuitBreaker.Timeout,
	}, registry, sel, logger)

	// 未配置 MinIO 时不归档（避免 typed nil）
	var archive conversation.Archiver
	if inf.Archive != nil {
		archive = inf.Archive
	}
	contexts := conversation.NewManager(inf.Cache, inf.Storage, archive, conversation.Config{
		CacheTTL:           cfg.Context.CacheTTL,
		CheckpointInterval: cfg.Context.CheckpointInterval,
		SessionTimeout:     cfg.Context.SessionTimeout,
		ContextTTL:         cfg.Context.ContextTTL,
	}, logger)

	eng, err := engine.New(engine.Config{
		ProviderTimeout: cfg.CircuitBreaker.Timeout,
	}, engine.Deps{
		Contexts:   contexts,
		Analyzer:   intent.NewKeywordAnalyzer(),
		Rules:      rules,
		Selector:   sel,
		Errors:     errs,
		Providers:  registry,
		Analytics:  inf.Analytics,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	defer eng.Close()

	// 后台任务：健康检查、过期清理、路由热更新
	monitor := selector.NewHealthMonitor(selector.MonitorConfig{
		Interval:   healthCheckInterval(cfg),
		InstanceID: instanceID(),
	}, registry, sel, inf.Cache, logger)
	go monitor.Start(ctx)
	go contexts.StartSweeper(ctx, cfg.Context.SweepInterval)

	// 未配置 etcd 时路由设置只在本实例生效
	var publisher server.SettingsPublisher
	if inf.Settings != nil {
		publisher = inf.Settings
		if current, err := inf.Settings.GetRoutingSettings(ctx); err != nil {
			logger.WithError(err).Warn("Load routing settings from etcd failed")
		} else if err := eng.ApplySettings(current); err != nil {
			logger.WithError(err).Warn("Ignoring invalid routing settings from etcd")
		}
		go eng.WatchSettings(ctx, inf.Settings.WatchRoutingSettings(ctx))
	}

	h := server.NewHandler(server.Deps{
		Engine:         eng,
		Contexts:       contexts,
		Settings:       publisher,
		ProviderHealth: inf.Cache,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      h.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	go func() {
		<-ctx.Done()
		log.Println("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Chat Router listening on :%s (providers=%v, strategy=%s)", cfg.Server.Port, registry.Types(), sel.Strategy())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildProviders 按配置创建 HTTP provider
func buildProviders(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	for _, pc := range cfg.Providers {
		if pc.BaseURL == "" {
			log.Printf("WARNING: provider %s has no base_url, skipped", pc.Type)
			continue
		}
		registry.Register(provider.NewHTTPProvider(provider.HTTPConfig{
			Type:    model.ProviderType(pc.Type),
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Timeout: pc.Timeout,
		}, nil))
	}
	return registry
}

// healthCheckInterval 取各 provider 健康检查周期的最小值
func healthCheckInterval(cfg *config.Config) time.Duration {
	var interval time.Duration
	for _, pc := range cfg.Providers {
		if interval == 0 || pc.HealthInterval < interval {
			interval = pc.HealthInterval
		}
	}
	return interval
}

// instanceID 健康快照使用的实例 ID，优先 INSTANCE_ID 环境变量
func instanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "router-" + uuid.NewString()[:8]
	}
	return host
}
