package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fyerfyer/doc-indexer/api"
	"github.com/fyerfyer/doc-indexer/api/handler"
	"github.com/fyerfyer/doc-indexer/api/middleware"
	appconfig "github.com/fyerfyer/doc-indexer/config"
	"github.com/fyerfyer/doc-indexer/internal/cache"
	"github.com/fyerfyer/doc-indexer/internal/chunking"
	"github.com/fyerfyer/doc-indexer/internal/database"
	"github.com/fyerfyer/doc-indexer/internal/indexing"
	"github.com/fyerfyer/doc-indexer/internal/repository"
	"github.com/fyerfyer/doc-indexer/internal/services"
	"github.com/fyerfyer/doc-indexer/pkg/storage"
	"github.com/fyerfyer/doc-indexer/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 命令行参数，非空时覆盖配置文件
type flags struct {
	ConfigFile string
	Mode       string
	LogLevel   string
	Port       int
	Queue      bool
}

func main() {
	// 解析命令行参数
	f := parseFlags()

	cfg, err := appconfig.Load(f.ConfigFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg, f)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 初始化日志
	logger := setupLogger(cfg.Log)
	logger.Info("Starting document indexer...")

	if err := run(cfg, logger); err != nil {
		logger.Fatalf("Indexer stopped with error: %v", err)
	}
	logger.Info("Server exited")
}

func run(cfg *appconfig.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化数据库
	if err := database.Setup(cfg.DatabaseBackendConfig(), logger); err != nil {
		return err
	}
	defer database.Close()

	// 创建文件存储服务
	fileStorage, err := storage.NewStorage(ctx, cfg.StorageBackendConfig())
	if err != nil {
		return err
	}

	// 创建处理引擎
	transform, err := chunking.LookupTransform(cfg.Processing.Transform)
	if err != nil {
		return err
	}
	engine, err := chunking.NewEngine(cfg.EngineConfig(),
		chunking.WithTransform(transform),
		chunking.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	// 创建索引后端与提交器
	backendCfg := cfg.IndexBackendConfig()
	backendCfg.Logger = logger
	backend, err := indexing.NewBackend(backendCfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	submitter, err := indexing.NewSubmitter(backend, cfg.Processing.IndexingCeiling,
		indexing.WithRuneBoundary(cfg.Processing.TruncateOnRuneBoundary),
		indexing.WithSubmitterLogger(logger),
	)
	if err != nil {
		return err
	}

	opts := []services.IngestOption{services.WithLogger(logger)}

	// 创建缓存服务
	if cfg.Cache.Enable {
		cacheService, err := cache.NewCache(cfg.CacheBackendConfig())
		if err != nil {
			return err
		}
		defer cacheService.Close()
		opts = append(opts, services.WithCache(cacheService))
	}

	// 初始化任务队列（如果启用）
	var queue *taskqueue.RedisQueue
	if cfg.Queue.Enable {
		queueCfg := cfg.QueueBackendConfig()
		queueCfg.Logger = logger
		queue, err = taskqueue.NewRedisQueue(queueCfg)
		if err != nil {
			return err
		}
		defer queue.Close()
		opts = append(opts, services.WithTaskQueue(queue))
		logger.WithFields(logrus.Fields{
			"redis_addr":  cfg.Queue.RedisAddr,
			"concurrency": cfg.Queue.Concurrency,
		}).Info("Task queue initialized successfully")
	}

	ingest, err := services.NewIngestService(
		fileStorage,
		engine,
		submitter,
		repository.NewIngestRepository(),
		opts...,
	)
	if err != nil {
		return err
	}

	// 初始化API处理器
	docHandler := handler.NewDocumentHandler(ingest,
		handler.WithMaxUploadSize(cfg.Server.MaxUploadSize),
		handler.WithAllowedExtensions(cfg.Server.AllowedExtensions),
	)
	healthHandler := handler.NewHealthHandler(map[string]string{
		"storage": fileStorage.Name(),
		"index":   backend.Name(),
	})
	healthHandler.AddCheck("database", database.Ping)

	var taskHandler *handler.TaskHandler
	if queue != nil {
		taskHandler = handler.NewTaskHandler(queue)
	}

	// 设置路由
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      api.SetupRouter(docHandler, healthHandler, taskHandler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if queue != nil {
		worker := taskqueue.NewRedisWorker(queue)
		worker.RegisterHandler(taskqueue.TaskIndexDocument,
			taskqueue.NewIndexDocumentHandler(ingest.HandleIndexTask, logger))
		if err := worker.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Stopping task worker...")
			worker.Stop()
			return nil
		})
	}

	g.Go(func() error {
		logger.Infof("Server is running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// 创建带超时的上下文
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// parseFlags 解析命令行参数
func parseFlags() flags {
	f := flags{}

	flag.StringVar(&f.ConfigFile, "config", "config.yaml", "Path to config file")
	flag.StringVar(&f.Mode, "mode", "", "Run mode (debug/release)")
	flag.StringVar(&f.LogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	flag.IntVar(&f.Port, "port", 0, "Server port")
	flag.BoolVar(&f.Queue, "queue", false, "Enable async task queue")

	flag.Parse()
	return f
}

// applyFlags 用命令行参数覆盖配置文件
func applyFlags(cfg *appconfig.Config, f flags) {
	if f.Mode != "" {
		cfg.Server.Mode = f.Mode
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.Port > 0 {
		cfg.Server.Port = f.Port
	}
	if f.Queue {
		cfg.Queue.Enable = true
	}
}

// setupLogger 设置日志系统
func setupLogger(cfg appconfig.LogConfig) *logrus.Logger {
	logger := middleware.GetLogger()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	}

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			logger.WithError(err).Warn("Failed to create log directory, logging to stdout only")
			return logger
		}
		logger.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}))
	}

	middleware.SetLogger(logger)
	return logger
}
