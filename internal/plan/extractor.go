package plan

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"AgentWarden/internal/memory"
	"AgentWarden/internal/task"
	"AgentWarden/pkg/logger"
)

// pendingPrefix 标识计划状态里尚未执行的动作列表。
const pendingPrefix = "pending_"

// Extractor 将已完成推演的长计划拆解为离散的任务描述。
// 计划状态是记忆基座中按 plan_id 归档的外部产物，本组件只读。
type Extractor struct {
	store  memory.Store
	logger *slog.Logger
}

// NewExtractor 创建计划拆解器。
func NewExtractor(store memory.Store) *Extractor {
	return &Extractor{
		store:  store,
		logger: logger.Named("plan_extractor"),
	}
}

// Extract 读取计划的最新持久化状态，把所有 pending_* 动作列表转换为
// 任务描述。计划不存在或没有待执行动作时返回空列表而非错误——
// 计划本身是可选输入，缺失不构成故障。
//
// 对同一份计划状态重复调用会得到内容一致的结果：列表按字段名排序
// 遍历，列表内部保持原有顺序。
func (e *Extractor) Extract(ctx context.Context, planID string) ([]task.Spec, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" || e.store == nil {
		return nil, nil
	}

	packets, err := e.store.Search(ctx, memory.PacketPlanState, map[string]string{"plan_id": planID})
	if err != nil {
		e.logger.Warn("读取计划状态失败",
			slog.Any("error", err),
			slog.String("plan_id", planID),
		)
		return nil, err
	}
	if len(packets) == 0 {
		return nil, nil
	}

	// 取最近一次归档的计划状态。
	state := packets[len(packets)-1].Payload
	if state == nil {
		return nil, nil
	}

	keys := make([]string, 0, len(state))
	for key := range state {
		if strings.HasPrefix(key, pendingPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var specs []task.Spec
	for _, key := range keys {
		entries, ok := state[key].([]any)
		if !ok {
			continue
		}
		fallback := handlerFromListName(key)
		for i, entry := range entries {
			spec, ok := specFromEntry(entry, fallback)
			if !ok {
				continue
			}
			if spec.Name == "" {
				spec.Name = fmt.Sprintf("%s/%s#%d", planID, key, i+1)
			}
			spec.Tags = append(spec.Tags, planID)
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// handlerFromListName 从列表字段名推导缺省 handler，
// 例如 pending_commits -> commit。
func handlerFromListName(key string) string {
	name := strings.TrimPrefix(key, pendingPrefix)
	return strings.TrimSuffix(name, "s")
}

func specFromEntry(entry any, fallbackHandler string) (task.Spec, bool) {
	switch value := entry.(type) {
	case string:
		if strings.TrimSpace(value) == "" {
			return task.Spec{}, false
		}
		return task.Spec{
			Handler: fallbackHandler,
			Payload: map[string]any{"action": value},
		}, true
	case map[string]any:
		spec := task.Spec{Handler: fallbackHandler}
		if handler, ok := value["handler"].(string); ok && strings.TrimSpace(handler) != "" {
			spec.Handler = handler
		}
		if name, ok := value["name"].(string); ok {
			spec.Name = name
		}
		if payload, ok := value["payload"].(map[string]any); ok {
			spec.Payload = payload
		} else {
			// 整个条目即参数，剥离已识别的控制字段。
			payload := make(map[string]any, len(value))
			for k, v := range value {
				switch k {
				case "handler", "name", "priority":
				default:
					payload[k] = v
				}
			}
			spec.Payload = payload
		}
		spec.Priority = intFromAny(value["priority"])
		return spec, true
	default:
		return task.Spec{}, false
	}
}

// intFromAny 兼容 JSON 反序列化产生的数值类型。
func intFromAny(value any) int {
	switch n := value.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
