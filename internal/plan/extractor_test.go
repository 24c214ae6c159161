package plan

import (
	"context"
	"reflect"
	"testing"

	"AgentWarden/internal/memory"
)

func writePlanState(t *testing.T, store memory.Store, planID string, state map[string]any) {
	t.Helper()
	_, err := store.Write(context.Background(), memory.PacketPlanState, state, map[string]string{
		"plan_id":   planID,
		"thread_id": planID,
	})
	if err != nil {
		t.Fatalf("写入计划状态失败: %v", err)
	}
}

func TestExtractConvertsPendingListsInOrder(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	writePlanState(t, store, "plan-42", map[string]any{
		"goal": "ship the release",
		"pending_commits": []any{
			"fix flaky test",
			map[string]any{"name": "bump version", "message": "v1.2.0", "priority": float64(7)},
		},
		"pending_reviews": []any{
			map[string]any{"handler": "review_pr", "pr": float64(17)},
			"review docs",
			"review changelog",
		},
		"done_commits": []any{"already landed"},
	})

	specs, err := NewExtractor(store).Extract(ctx, "plan-42")
	if err != nil {
		t.Fatalf("拆解失败: %v", err)
	}
	if len(specs) != 5 {
		t.Fatalf("期望 5 个任务描述，实际 %d", len(specs))
	}

	// 列表按字段名排序：pending_commits 先于 pending_reviews。
	if specs[0].Handler != "commit" || specs[0].Payload["action"] != "fix flaky test" {
		t.Fatalf("第一个描述错误: %+v", specs[0])
	}
	if specs[1].Name != "bump version" || specs[1].Priority != 7 {
		t.Fatalf("结构化条目未解析: %+v", specs[1])
	}
	if specs[1].Payload["message"] != "v1.2.0" {
		t.Fatalf("payload 应剥离控制字段后保留业务字段: %+v", specs[1].Payload)
	}
	if specs[2].Handler != "review_pr" || specs[2].Payload["pr"] != float64(17) {
		t.Fatalf("显式 handler 应覆盖列表名推导: %+v", specs[2])
	}
	if specs[3].Handler != "review" || specs[4].Handler != "review" {
		t.Fatalf("列表名推导 handler 错误: %s, %s", specs[3].Handler, specs[4].Handler)
	}

	for i, spec := range specs {
		if !reflect.DeepEqual(spec.Tags, []string{"plan-42"}) {
			t.Fatalf("第 %d 个描述缺少计划标签: %v", i, spec.Tags)
		}
		if spec.Name == "" {
			t.Fatalf("第 %d 个描述缺少名称", i)
		}
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	writePlanState(t, store, "plan-7", map[string]any{
		"pending_checks": []any{"lint", "unit tests"},
	})

	extractor := NewExtractor(store)
	first, err := extractor.Extract(ctx, "plan-7")
	if err != nil {
		t.Fatalf("拆解失败: %v", err)
	}
	second, err := extractor.Extract(ctx, "plan-7")
	if err != nil {
		t.Fatalf("拆解失败: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("同一计划状态的重复拆解应一致:\n%v\n%v", first, second)
	}
}

func TestExtractUsesLatestPlanState(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	writePlanState(t, store, "plan-3", map[string]any{
		"pending_steps": []any{"old step"},
	})
	writePlanState(t, store, "plan-3", map[string]any{
		"pending_steps": []any{"new step"},
	})

	specs, err := NewExtractor(store).Extract(ctx, "plan-3")
	if err != nil {
		t.Fatalf("拆解失败: %v", err)
	}
	if len(specs) != 1 || specs[0].Payload["action"] != "new step" {
		t.Fatalf("应使用最新归档的计划状态: %+v", specs)
	}
}

func TestExtractMissingOrEmptyPlan(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	extractor := NewExtractor(store)

	specs, err := extractor.Extract(ctx, "no-such-plan")
	if err != nil || specs != nil {
		t.Fatalf("缺失计划应返回空列表: %v, %v", specs, err)
	}

	writePlanState(t, store, "plan-empty", map[string]any{"goal": "nothing pending"})
	specs, err = extractor.Extract(ctx, "plan-empty")
	if err != nil || specs != nil {
		t.Fatalf("无待执行动作应返回空列表: %v, %v", specs, err)
	}

	specs, err = extractor.Extract(ctx, "  ")
	if err != nil || specs != nil {
		t.Fatalf("空计划标识应返回空列表: %v, %v", specs, err)
	}
}

func TestExtractSkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStore()
	writePlanState(t, store, "plan-x", map[string]any{
		"pending_steps": []any{"valid", float64(42), "", nil},
		"pending_notes": "not a list",
	})

	specs, err := NewExtractor(store).Extract(ctx, "plan-x")
	if err != nil {
		t.Fatalf("拆解失败: %v", err)
	}
	if len(specs) != 1 || specs[0].Payload["action"] != "valid" {
		t.Fatalf("非法条目应被跳过: %+v", specs)
	}
}
