// Package main provides the MakeHub Gateway server implementation.
package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MakeHub-ai/makehub-gateway/api/handlers"
	"github.com/MakeHub-ai/makehub-gateway/config"
	"github.com/MakeHub-ai/makehub-gateway/internal/auth"
	"github.com/MakeHub-ai/makehub-gateway/internal/cache"
	"github.com/MakeHub-ai/makehub-gateway/internal/metrics"
	"github.com/MakeHub-ai/makehub-gateway/internal/metricsstore"
	"github.com/MakeHub-ai/makehub-gateway/internal/notify"
	"github.com/MakeHub-ai/makehub-gateway/internal/orchestrator"
	"github.com/MakeHub-ai/makehub-gateway/internal/server"
	"github.com/MakeHub-ai/makehub-gateway/internal/wallet"
	"github.com/MakeHub-ai/makehub-gateway/llm"
	"github.com/MakeHub-ai/makehub-gateway/llm/factory"
	"github.com/MakeHub-ai/makehub-gateway/llm/familyrouter"
	"github.com/MakeHub-ai/makehub-gateway/llm/selector"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 🖥️ Server 结构（重构版）
// =============================================================================

// Server 是 AgentFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	db         *gorm.DB

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	apiKeyHandler *handlers.APIKeyHandler
	chatHandler   *handlers.ChatHandler

	// 网关核心组件：model registry / selector / family router / orchestrator
	cacheManager  *cache.Manager
	modelRegistry *llm.Registry
	orchestrator  *orchestrator.Orchestrator

	// 指标收集器
	metricsCollector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, db *gorm.DB) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		db:         db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("agentflow", s.logger)

	// 2. 初始化 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 初始化热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	if s.db != nil {
		s.apiKeyHandler = handlers.NewAPIKeyHandler(s.db, s.logger)
	} else {
		s.logger.Warn("database unavailable, provider API key management disabled")
	}

	if s.cfg.Redis.Addr != "" {
		cacheMgr, err := cache.NewManager(cache.Config{
			Addr: s.cfg.Redis.Addr, Password: s.cfg.Redis.Password, DB: s.cfg.Redis.DB,
			DefaultTTL: 10 * time.Minute,
		}, s.logger)
		if err != nil {
			s.logger.Warn("redis unavailable, auth/family-routing caches disabled", zap.Error(err))
		} else {
			s.cacheManager = cacheMgr
		}
	}

	if s.db != nil {
		if err := s.initOrchestrator(); err != nil {
			s.logger.Warn("chat completion gateway disabled", zap.Error(err))
		}
	} else {
		s.logger.Warn("database unavailable, chat completion gateway disabled")
	}

	s.logger.Info("Handlers initialized")
	return nil
}

// initOrchestrator wires the Model Registry, Provider Selector, Family
// Router, adapter registry, and their collaborators (wallet, metrics
// store, notifier, auth provider) into a Request Orchestrator, then builds
// the chat completion handler on top of it. Requires a database connection;
// the gateway still serves health/metrics/config endpoints without one.
func (s *Server) initOrchestrator() error {
	s.modelRegistry = llm.NewRegistry(s.db, s.logger)
	if err := s.modelRegistry.Refresh(context.Background()); err != nil {
		s.logger.Warn("initial model registry refresh failed, starting with an empty registry", zap.Error(err))
	}

	metricsStore := metricsstore.New(s.db, s.logger)
	walletLedger := wallet.New(s.db, s.logger)
	notifier := notify.New(s.cfg.Gateway.WebhookURL, s.logger)
	tok := llm.NewMessageTokenEstimator()
	sel := selector.New(metricsStore, tok, s.logger)

	adapterConfigs := map[string]factory.AdapterConfig{
		"openai":           {APIKey: s.cfg.LLM.APIKey, BaseURL: s.cfg.LLM.BaseURL},
		"azure-openai":     {APIKey: s.cfg.LLM.APIKey, BaseURL: s.cfg.LLM.BaseURL},
		"anthropic-native": {APIKey: s.cfg.LLM.APIKey, BaseURL: s.cfg.LLM.BaseURL},
		"bedrock-anthropic": {
			AWSRegion: s.cfg.Gateway.AWS.Region, AWSAccessKeyID: s.cfg.Gateway.AWS.AccessKeyID,
			AWSSecretAccessKey: s.cfg.Gateway.AWS.SecretAccessKey,
		},
		"vertex-anthropic": {
			GCPProjectID: s.cfg.Gateway.GCP.ProjectID, GCPRegion: s.cfg.Gateway.GCP.Region,
			GCPClientEmail: s.cfg.Gateway.GCP.ClientEmail, GCPPrivateKey: s.cfg.Gateway.GCP.PrivateKey,
		},
	}
	adapterRegistry, err := factory.NewAdapterRegistry(adapterConfigs, s.logger)
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}

	var familyRouter *familyrouter.Router
	families, _, err := config.LoadFamilies(s.cfg.Gateway.FamilyConfigPath)
	if err != nil {
		s.logger.Info("no model family configuration loaded, family/* aliases disabled", zap.Error(err))
	} else {
		var routerCache familyrouter.Cache
		if s.cacheManager != nil {
			routerCache = s.cacheManager
		}
		familyRouter = familyrouter.New(families, s.modelRegistry, adapterRegistry, routerCache, s.logger)
	}

	s.orchestrator = orchestrator.New(s.modelRegistry, sel, familyRouter, adapterRegistry, walletLedger, metricsStore, notifier, s.logger)

	var authCache auth.Cache
	if s.cacheManager != nil {
		authCache = s.cacheManager
	}
	authProvider := auth.New(s.db, s.cfg.JWT, walletLedger, authCache, s.logger)

	s.chatHandler = handlers.NewChatHandler(s.orchestrator, authProvider, s.cfg.Gateway.MinimalFund, s.logger)
	return nil
}

// initHotReloadManager 初始化热更新管理器
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}

	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	// 注册配置变更回调
	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	// 注册配置重载回调
	s.hotReloadManager.OnReload(func(oldConfig, newConfig *config.Config) {
		s.logger.Info("Configuration reloaded")
		s.cfg = newConfig
	})

	// 启动热更新管理器
	ctx := context.Background()
	if err := s.hotReloadManager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	// 创建配置 API 处理器
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager)

	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器（使用新的 handlers）
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点（使用新的 HealthHandler）
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 供应商 API Key 管理端点
	// ========================================
	if s.apiKeyHandler != nil {
		mux.HandleFunc("/api/v1/providers", s.apiKeyHandler.HandleListProviders)
		mux.HandleFunc("GET /api/v1/providers/{id}/api-keys", s.apiKeyHandler.HandleListAPIKeys)
		mux.HandleFunc("POST /api/v1/providers/{id}/api-keys", s.apiKeyHandler.HandleCreateAPIKey)
		mux.HandleFunc("PUT /api/v1/providers/{id}/api-keys/{keyId}", s.apiKeyHandler.HandleUpdateAPIKey)
		mux.HandleFunc("DELETE /api/v1/providers/{id}/api-keys/{keyId}", s.apiKeyHandler.HandleDeleteAPIKey)
		mux.HandleFunc("GET /api/v1/providers/{id}/api-keys/stats", s.apiKeyHandler.HandleAPIKeyStats)
	}

	// ========================================
	// 聊天补全端点（OpenAI 兼容）
	// ========================================
	if s.chatHandler != nil {
		mux.HandleFunc("/v1/chat/completions", s.chatHandler.HandleChat)
	}

	// ========================================
	// 配置管理 API
	// ========================================
	if s.configAPIHandler != nil {
		s.configAPIHandler.RegisterRoutes(mux)
		s.logger.Info("Configuration API registered")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭缓存连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager shutdown error", zap.Error(err))
		}
	}

	// 5. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
