package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "warden.json", `{
		"server": {"address": ":9090"},
		"approval": {"approver": "Igor"},
		"executor": {"workers": 2, "max_retries": 5},
		"safety": {"dangerous": ["deploy"], "requires_approval": ["commit"]},
		"memory": {"driver": "redis", "redis_addr": "localhost:6379"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Server.Address != ":9090" || cfg.Executor.Workers != 2 || *cfg.Executor.MaxRetries != 5 {
		t.Fatalf("显式字段未生效: %+v", cfg)
	}
	if cfg.Memory.Driver != "redis" || cfg.Memory.RedisAddr != "localhost:6379" {
		t.Fatalf("memory 配置未生效: %+v", cfg.Memory)
	}
	if len(cfg.Safety.Dangerous) != 1 || cfg.Safety.Dangerous[0] != "deploy" {
		t.Fatalf("safety 配置未生效: %+v", cfg.Safety)
	}
	// 未填写的字段落默认值。
	if cfg.Executor.BackoffBaseMS != 1000 || cfg.Executor.PollIntervalMS != 200 {
		t.Fatalf("executor 默认值错误: %+v", cfg.Executor)
	}
	if cfg.Queue.DefaultPriority != 1 || cfg.Alerting.AMQPQueue != "warden.alerts" {
		t.Fatalf("默认值错误: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "warden.yaml", `
server:
  address: ":7070"
approval:
  approver: Boris
safety:
  requires_approval:
    - git_commit
    - payment
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Server.Address != ":7070" || cfg.Approval.Approver != "Boris" {
		t.Fatalf("YAML 字段未生效: %+v", cfg)
	}
	if len(cfg.Safety.RequiresApproval) != 2 {
		t.Fatalf("safety 列表未解析: %+v", cfg.Safety)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log 配置未生效: %+v", cfg.Log)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Address != ":8080" {
		t.Fatalf("默认监听地址错误: %s", cfg.Server.Address)
	}
	if cfg.Approval.Approver != "Igor" {
		t.Fatalf("默认授权人错误: %s", cfg.Approval.Approver)
	}
	if cfg.Memory.Driver != "memory" || cfg.Memory.RecentDepth != 5 {
		t.Fatalf("memory 默认值错误: %+v", cfg.Memory)
	}
	if cfg.Executor.Workers != 4 || *cfg.Executor.MaxRetries != 3 {
		t.Fatalf("executor 默认值错误: %+v", cfg.Executor)
	}
}

func TestMaxRetriesZeroDisablesRetries(t *testing.T) {
	// 显式的 0 是合法的 "不重试" 策略，不得被默认值覆盖。
	path := writeFile(t, "warden.json", `{"executor": {"max_retries": 0}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if cfg.Executor.MaxRetries == nil || *cfg.Executor.MaxRetries != 0 {
		t.Fatalf("显式 max_retries=0 应保持为 0: %+v", cfg.Executor)
	}

	// 负值归零，缺省仍落默认值。
	negative := writeFile(t, "negative.json", `{"executor": {"max_retries": -2}}`)
	cfg, err = Load(negative)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if *cfg.Executor.MaxRetries != 0 {
		t.Fatalf("负的 max_retries 应归零: %+v", cfg.Executor)
	}

	absent := writeFile(t, "absent.json", `{"executor": {"workers": 2}}`)
	cfg, err = Load(absent)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if *cfg.Executor.MaxRetries != 3 {
		t.Fatalf("未配置的 max_retries 应落默认值 3: %+v", cfg.Executor)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("缺失文件应报错")
	}
	broken := writeFile(t, "broken.json", "{not json")
	if _, err := Load(broken); err == nil {
		t.Fatal("非法 JSON 应报错")
	}
}

func TestAuditPathResolvedRelativeToConfigDir(t *testing.T) {
	path := writeFile(t, "warden.json", `{
		"log": {"audit": {"enabled": true, "path": "logs/audit.log"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	want := filepath.Join(filepath.Dir(path), "logs", "audit.log")
	if cfg.Log.Audit.Path != want {
		t.Fatalf("审计路径应相对配置目录解析，期望 %s，实际 %s", want, cfg.Log.Audit.Path)
	}
}
