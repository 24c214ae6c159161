package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述了 AgentWarden 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Approval ApprovalConfig `json:"approval" yaml:"approval"`
	Queue    QueueConfig    `json:"queue" yaml:"queue"`
	Executor ExecutorConfig `json:"executor" yaml:"executor"`
	Safety   SafetyConfig   `json:"safety" yaml:"safety"`
	Memory   MemoryConfig   `json:"memory" yaml:"memory"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// ApprovalConfig 指定唯一有权批准任务的授权人身份。
type ApprovalConfig struct {
	Approver string `json:"approver" yaml:"approver"`
}

// QueueConfig 控制任务队列的行为。
type QueueConfig struct {
	DefaultPriority int `json:"default_priority" yaml:"default_priority"`
}

// ExecutorConfig 控制任务执行器与消费工作池。
// MaxRetries 用指针区分 "未配置"（默认 3）与显式的 0（不重试）。
type ExecutorConfig struct {
	Workers          int  `json:"workers" yaml:"workers"`
	MaxRetries       *int `json:"max_retries" yaml:"max_retries"`
	BackoffBaseMS    int  `json:"backoff_base_ms" yaml:"backoff_base_ms"`
	HandlerTimeoutMS int  `json:"handler_timeout_ms" yaml:"handler_timeout_ms"`
	PollIntervalMS   int  `json:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// SafetyConfig 按分级列出 handler 匹配模式。
type SafetyConfig struct {
	Dangerous        []string `json:"dangerous" yaml:"dangerous"`
	RequiresApproval []string `json:"requires_approval" yaml:"requires_approval"`
	Safe             []string `json:"safe" yaml:"safe"`
}

// MemoryConfig 描述记忆基座的后端连接信息。
type MemoryConfig struct {
	Driver      string `json:"driver" yaml:"driver"`
	DSN         string `json:"dsn" yaml:"dsn"`
	RedisAddr   string `json:"redis_addr" yaml:"redis_addr"`
	RedisDB     int    `json:"redis_db" yaml:"redis_db"`
	RedisPrefix string `json:"redis_prefix" yaml:"redis_prefix"`
	RecentDepth int    `json:"recent_depth" yaml:"recent_depth"`
}

// AlertingConfig 描述告警通道。AMQPURL 为空时只输出日志告警。
type AlertingConfig struct {
	AMQPURL   string `json:"amqp_url" yaml:"amqp_url"`
	AMQPQueue string `json:"amqp_queue" yaml:"amqp_queue"`
}

// LogConfig 控制日志与审计输出。
type LogConfig struct {
	Level       string         `json:"level" yaml:"level"`
	Format      string         `json:"format" yaml:"format"`
	OutputPaths []string       `json:"output_paths" yaml:"output_paths"`
	Audit       AuditLogConfig `json:"audit" yaml:"audit"`
}

// AuditLogConfig 控制审计日志文件的轮转策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Path       string `json:"path" yaml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
}

// Load 负责解析指定路径的配置文件，按扩展名区分 JSON 与 YAML。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置失败: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// Default 返回无需配置文件即可启动的最小配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Approval.Approver == "" {
		c.Approval.Approver = "Igor"
	}

	if c.Queue.DefaultPriority <= 0 {
		c.Queue.DefaultPriority = 1
	}

	if c.Executor.Workers <= 0 {
		c.Executor.Workers = 4
	}
	if c.Executor.MaxRetries == nil {
		retries := 3
		c.Executor.MaxRetries = &retries
	} else if *c.Executor.MaxRetries < 0 {
		*c.Executor.MaxRetries = 0
	}
	if c.Executor.BackoffBaseMS <= 0 {
		c.Executor.BackoffBaseMS = 1000
	}
	if c.Executor.HandlerTimeoutMS <= 0 {
		c.Executor.HandlerTimeoutMS = 30000
	}
	if c.Executor.PollIntervalMS <= 0 {
		c.Executor.PollIntervalMS = 200
	}

	if c.Memory.Driver == "" {
		c.Memory.Driver = "memory"
	}
	if c.Memory.RedisPrefix == "" {
		c.Memory.RedisPrefix = "warden:memory"
	}
	if c.Memory.RecentDepth <= 0 {
		c.Memory.RecentDepth = 5
	}

	if c.Alerting.AMQPQueue == "" {
		c.Alerting.AMQPQueue = "warden.alerts"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Audit.Enabled && c.Log.Audit.Path == "" {
		c.Log.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	} else if c.Log.Audit.Path != "" && !filepath.IsAbs(c.Log.Audit.Path) {
		c.Log.Audit.Path = filepath.Join(baseDir, c.Log.Audit.Path)
	}
}
