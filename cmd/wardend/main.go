package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"AgentWarden/internal/api"
	"AgentWarden/internal/approval"
	"AgentWarden/internal/config"
	"AgentWarden/internal/executor"
	"AgentWarden/internal/memory"
	"AgentWarden/internal/observability/alerting"
	"AgentWarden/internal/plan"
	"AgentWarden/internal/reactive"
	"AgentWarden/internal/safety"
	"AgentWarden/internal/task"
	"AgentWarden/internal/warden"
	"AgentWarden/pkg/logger"
)

// main 是 AgentWarden 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("wardend 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("WARDEN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "warden.json")
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// 记忆基座后端。
	var store memory.Store
	switch cfg.Memory.Driver {
	case "", "memory":
		store = memory.NewMemoryStore()
	case "mysql":
		store, err = memory.NewMySQLStore(cfg.Memory.DSN)
		if err != nil {
			return err
		}
	case "redis":
		store, err = memory.NewRedisStore(memory.RedisStoreConfig{
			Address:   cfg.Memory.RedisAddr,
			DB:        cfg.Memory.RedisDB,
			KeyPrefix: cfg.Memory.RedisPrefix,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("未知的记忆基座驱动: %s", cfg.Memory.Driver)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("关闭记忆基座失败: %v", err)
		}
	}()

	binder := memory.NewBinder(store, memory.WithRecentDepth(cfg.Memory.RecentDepth))

	classifier := safety.NewClassifier(safety.Config{
		Dangerous:        cfg.Safety.Dangerous,
		RequiresApproval: cfg.Safety.RequiresApproval,
		Safe:             cfg.Safety.Safe,
	})

	queue := task.NewMemoryQueue(classifier.RequiresGate,
		task.WithDefaultPriority(cfg.Queue.DefaultPriority),
	)
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("关闭任务队列失败: %v", err)
		}
	}()

	approvals := approval.NewManager(cfg.Approval.Approver, queue,
		approval.WithBinder(binder),
	)

	// 告警渠道：日志兜底，配置了 RabbitMQ 时同时投递。
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.AMQPURL != "" {
		amqpNotifier, err := alerting.NewAMQPNotifier(alerting.AMQPConfig{
			URL:     cfg.Alerting.AMQPURL,
			Queue:   cfg.Alerting.AMQPQueue,
			Durable: true,
		})
		if err != nil {
			return err
		}
		defer amqpNotifier.Close()
		notifiers = append(notifiers, amqpNotifier)
	}
	dispatcher := alerting.NewFanout(notifiers...)

	registry := executor.NewRegistry()
	registerBuiltins(registry, queue, store)

	exec := executor.New(registry, classifier, approvals, binder,
		executor.WithMaxRetries(*cfg.Executor.MaxRetries),
		executor.WithBackoffBase(time.Duration(cfg.Executor.BackoffBaseMS)*time.Millisecond),
		executor.WithHandlerTimeout(time.Duration(cfg.Executor.HandlerTimeoutMS)*time.Millisecond),
	)

	runner := executor.NewRunner(queue, exec,
		executor.WithWorkerCount(cfg.Executor.Workers),
		executor.WithPollInterval(time.Duration(cfg.Executor.PollIntervalMS)*time.Millisecond),
		executor.WithAlertDispatcher(dispatcher),
	)

	runnerCtx, runnerCancel := context.WithCancel(ctx)
	defer runnerCancel()

	go func() {
		if err := runner.Start(runnerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("任务工作池异常退出: %v", err)
		}
	}()

	service := warden.NewService(queue, approvals, classifier,
		warden.WithExtractor(plan.NewExtractor(store)),
		warden.WithGenerator(reactive.NewGenerator()),
		warden.WithBinder(binder),
		warden.WithAlertDispatcher(dispatcher),
	)

	server := api.NewServer(cfg.Server.Address, service)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadConfig 解析配置文件；文件不存在时以默认配置启动。
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			log.Printf("配置文件 %s 不存在，使用默认配置", path)
			return config.Default(), nil
		}
		return nil, err
	}
	return config.Load(path)
}
