package reactive

import (
	"strings"

	"AgentWarden/internal/task"
)

// 内置意图对应的 handler 标识。
const (
	HandlerStatusReport = "status_report"
	HandlerHelp         = "help"
	HandlerPlanProposal = "plan_proposal"
	HandlerGitCommit    = "git_commit"
	HandlerRunCommand   = "run_command"
)

// rule 是一条有序的意图匹配规则。conservative 标记低风险意图，
// 多个动作意图同时命中时会退化为状态查询而不是猜测高风险动作。
type rule struct {
	intent       string
	keywords     []string
	conservative bool
	build        func(query string) task.Spec
}

// Generator 将自由文本请求转换为零个或多个任务描述。
// 规则按声明顺序匹配，保守意图优先；无法识别的输入返回空列表，
// 永远不报错。
type Generator struct {
	rules []rule
}

// NewGenerator 创建带内置规则集的生成器。
func NewGenerator() *Generator {
	return &Generator{rules: defaultRules()}
}

// Generate 对查询应用意图规则。
func (g *Generator) Generate(query string) []task.Spec {
	normalized := strings.ToLower(strings.TrimSpace(query))
	if normalized == "" {
		return nil
	}

	var (
		matched []rule
		actions int
	)
	for _, r := range g.rules {
		if !matchesKeywords(normalized, r.keywords) {
			continue
		}
		matched = append(matched, r)
		if !r.conservative {
			actions++
		}
	}
	if len(matched) == 0 {
		return nil
	}

	// 保守意图排在规则表前列，命中即生效；
	// 多个动作意图同时命中说明意图不明，退化为状态查询。
	first := matched[0]
	if !first.conservative && actions > 1 {
		return []task.Spec{statusSpec(query)}
	}
	return []task.Spec{first.build(query)}
}

func matchesKeywords(query string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(query, keyword) {
			return true
		}
	}
	return false
}

func statusSpec(query string) task.Spec {
	return task.Spec{
		Name:    "status report",
		Handler: HandlerStatusReport,
		Payload: map[string]any{"query": query},
	}
}

func defaultRules() []rule {
	return []rule{
		{
			intent:       "status",
			keywords:     []string{"status", "progress", "how far", "where are we"},
			conservative: true,
			build:        statusSpec,
		},
		{
			intent:       "help",
			keywords:     []string{"help", "what can you", "usage"},
			conservative: true,
			build: func(query string) task.Spec {
				return task.Spec{
					Name:    "help",
					Handler: HandlerHelp,
					Payload: map[string]any{"query": query},
				}
			},
		},
		{
			intent:   "plan_proposal",
			keywords: []string{"plan", "schedule", "roadmap", "break down"},
			build: func(query string) task.Spec {
				return task.Spec{
					Name:    "plan proposal",
					Handler: HandlerPlanProposal,
					Payload: map[string]any{"query": query},
				}
			},
		},
		{
			intent:   "git_commit",
			keywords: []string{"commit", "push the change"},
			build: func(query string) task.Spec {
				return task.Spec{
					Name:    "git commit",
					Handler: HandlerGitCommit,
					Payload: map[string]any{"query": query},
				}
			},
		},
		{
			intent:   "run_command",
			keywords: []string{"run ", "execute "},
			build: func(query string) task.Spec {
				return task.Spec{
					Name:    "run command",
					Handler: HandlerRunCommand,
					Payload: map[string]any{"query": query},
				}
			},
		},
	}
}
