package main

import (
	"context"
	"strings"

	"AgentWarden/internal/executor"
	"AgentWarden/internal/memory"
	"AgentWarden/internal/reactive"
	"AgentWarden/internal/task"
)

// registerBuiltins 注册守护进程自带的 handler。
// 外部系统可以通过编译期扩展向注册表补充自己的行为。
func registerBuiltins(registry *executor.Registry, queue task.Queue, store memory.Store) {
	registry.Register("echo", func(_ context.Context, payload map[string]any) (map[string]any, error) {
		return map[string]any{"echo": payload}, nil
	})

	registry.Register(reactive.HandlerStatusReport, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		stats, err := queue.Stats(ctx, task.ListOptions{Limit: 100})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"total":            stats.Total,
			"pending_approval": stats.PendingApproval,
			"ready":            stats.Ready,
			"running":          stats.Running,
			"completed":        stats.Completed,
			"failed":           stats.Failed,
			"rejected":         stats.Rejected,
		}, nil
	})

	registry.Register(reactive.HandlerHelp, func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{"handlers": registry.Names()}, nil
	})

	// plan_proposal 把请求落成一份计划状态草稿，后续由计划拆解
	// 接口转换为具体任务。
	registry.Register(reactive.HandlerPlanProposal, func(ctx context.Context, payload map[string]any) (map[string]any, error) {
		query, _ := payload["query"].(string)
		planID := planIDFromQuery(query)
		state := map[string]any{
			"query":           query,
			"pending_reviews": []any{query},
		}
		id, err := store.Write(ctx, memory.PacketPlanState, state, map[string]string{
			"plan_id":   planID,
			"thread_id": planID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"plan_id": planID, "packet_id": id}, nil
	})
}

// planIDFromQuery 从请求文本派生一个稳定可读的计划标识。
func planIDFromQuery(query string) string {
	slug := strings.ToLower(strings.TrimSpace(query))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "plan"
	}
	return "plan-" + slug
}
