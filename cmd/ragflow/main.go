// =============================================================================
// RAGFlow 主入口
// =============================================================================
// 检索增强对话引擎的命令行入口
//
// 使用方法:
//
//	ragflow chat                        # 启动交互式对话
//	ragflow chat --config config.yaml   # 指定配置文件
//	ragflow version                     # 显示版本信息
// =============================================================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/ragflow/config"
	"github.com/BaSui01/ragflow/graph"
	"github.com/BaSui01/ragflow/ingest"
	"github.com/BaSui01/ragflow/internal/metrics"
	"github.com/BaSui01/ragflow/llm"
	"github.com/BaSui01/ragflow/memory"
	"github.com/BaSui01/ragflow/persistence"
	"github.com/BaSui01/ragflow/retrieval"
	"github.com/BaSui01/ragflow/tools"
	"github.com/BaSui01/ragflow/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	metricsAddr := fs.String("metrics-addr", "", "Address to expose Prometheus metrics (e.g. :9090)")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting RAGFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, logger)
	}

	store, db, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open message store", zap.Error(err))
	}
	defer store.Close()

	engine, queue := buildEngine(cfg, store, db, m, logger)
	defer queue.Close()

	if err := runREPL(engine, queue, cfg, logger); err != nil {
		logger.Fatal("Chat session failed", zap.Error(err))
	}
	logger.Info("RAGFlow stopped")
}

// buildEngine 组装引擎和入库队列.
func buildEngine(cfg *config.Config, store persistence.MessageLog, db *gorm.DB, m *metrics.Metrics, logger *zap.Logger) (*graph.Engine, *ingest.Queue) {
	provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Timeout:     cfg.LLM.Timeout,
		Temperature: cfg.LLM.Temperature,
	}, logger)

	vectorStore := retrieval.NewInMemoryVectorStore()
	fusion := retrieval.NewFusionEngine(vectorStore, nil, retrieval.FusionConfig{
		MaxDocsPerQuery: cfg.Retrieval.MaxDocsPerQuery,
		GraphMode:       cfg.Retrieval.GraphMode,
	}, logger)

	toolRegistry := tools.NewRegistry(logger)
	if err := tools.RegisterRiskTools(toolRegistry); err != nil {
		logger.Fatal("Failed to register built-in tools", zap.Error(err))
	}

	var auditor tools.Auditor
	if db != nil {
		gormAuditor, err := tools.NewGormAuditStore(db, logger)
		if err != nil {
			logger.Warn("Audit table migration failed, falling back to in-memory audit", zap.Error(err))
		} else {
			auditor = gormAuditor
		}
	}
	executor := tools.NewExecutor(toolRegistry, auditor, tools.ExecutorConfig{
		MaxConcurrent:  cfg.Tools.MaxConcurrent,
		DefaultTimeout: cfg.Tools.Timeout,
	}, m, logger)

	mem := memory.NewManager(store, provider, memory.Config{
		CompactThreshold: cfg.Memory.CompactThreshold,
		CompactKeep:      cfg.Memory.CompactKeep,
		ShortTermWindow:  cfg.Memory.ShortTermWindow,
		TokenBudget:      cfg.Memory.TokenBudget,
		Encoding:         cfg.Memory.Encoding,
	}, m, logger)

	queue := ingest.NewQueue(ingest.SinkFunc(func(ctx context.Context, doc ingest.Document) error {
		metadata := map[string]any{"pk": doc.ID, "document_name": doc.Name}
		for k, v := range doc.Metadata {
			metadata[k] = v
		}
		vectorStore.Add(types.EvidenceDocument{Content: doc.Content, Metadata: metadata})
		return nil
	}), cfg.Ingest.MaxConcurrent, m, logger)

	engine := graph.NewEngine(graph.Options{
		Provider: provider,
		Fusion:   fusion,
		Registry: toolRegistry,
		Executor: executor,
		Memory:   mem,
		Store:    store,
		Metrics:  m,
		Config: graph.Config{
			DefaultRetrievalMode: types.ParseRetrievalMode(cfg.Engine.DefaultRetrievalMode),
			TurnTimeout:          cfg.Engine.TurnTimeout,
			EventBuffer:          cfg.Engine.EventBuffer,
			MaxSubquestions:      cfg.Retrieval.MaxSubquestions,
		},
		Logger: logger,
	})
	return engine, queue
}

// openStore 按驱动打开消息存储, 关系型驱动同时返回 *gorm.DB 给审计表复用.
func openStore(cfg *config.Config, logger *zap.Logger) (persistence.MessageLog, *gorm.DB, error) {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
		var dialector gorm.Dialector
		if cfg.Database.Driver == "postgres" {
			dialector = postgres.Open(cfg.Database.DSN)
		} else {
			dsn := cfg.Database.DSN
			if dsn == "" {
				dsn = "ragflow.db"
			}
			dialector = sqlite.Open(dsn)
		}
		db, err := gorm.Open(dialector, &gorm.Config{})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect database: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		store, err := persistence.NewGormStore(db, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))
		return store, db, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
		return persistence.NewRedisStore(client, logger), nil, nil

	default:
		return persistence.NewMemoryStore(), nil, nil
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("Metrics endpoint failed", zap.Error(err))
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("RAGFlow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`RAGFlow - Retrieval-Augmented Conversation Engine

Usage:
  ragflow <command> [options]

Commands:
  chat      Start an interactive chat session
  version   Show version information
  help      Show this help message

Options for 'chat':
  --config <path>         Path to configuration file (YAML)
  --metrics-addr <addr>   Expose Prometheus metrics (e.g. :9090)

In-session commands:
  /mode <auto|vector_only|graph_only|no_retrieval>   Switch retrieval mode
  /ingest <name> <text>                              Add a document to the index
  /status                                            Show ingest queue status
  /quit                                              Exit

Examples:
  ragflow chat
  ragflow chat --config /etc/ragflow/config.yaml --metrics-addr :9090
  ragflow version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
