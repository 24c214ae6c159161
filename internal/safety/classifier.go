package safety

import "strings"

// Tier 表示 handler 的安全分级。
type Tier string

const (
	// TierSafe 的 handler 可以直接自动执行。
	TierSafe Tier = "SAFE"
	// TierRequiresApproval 的 handler 必须先经授权人批准。
	TierRequiresApproval Tier = "REQUIRES_APPROVAL"
	// TierDangerous 的 handler 永远不会被自动执行，任何审批都不放行。
	TierDangerous Tier = "DANGEROUS"
)

// Config 提供三个分级的模式集合。模式按精确或子串匹配命中。
type Config struct {
	Dangerous        []string `json:"dangerous" yaml:"dangerous"`
	RequiresApproval []string `json:"requires_approval" yaml:"requires_approval"`
	Safe             []string `json:"safe" yaml:"safe"`
}

// Classifier 将 handler 标识映射到安全分级。纯函数，无 I/O。
type Classifier struct {
	dangerous        []string
	requiresApproval []string
	safe             []string
}

// NewClassifier 创建分类器。模式在构造时归一化为小写。
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		dangerous:        normalize(cfg.Dangerous),
		requiresApproval: normalize(cfg.RequiresApproval),
		safe:             normalize(cfg.Safe),
	}
}

// Classify 返回 handler 的安全分级。
// 三个集合按 DANGEROUS、REQUIRES_APPROVAL、SAFE 的顺序检查，
// 重叠命中时取最严格的分级，未命中默认 SAFE。
func (c *Classifier) Classify(handler string) Tier {
	if c == nil {
		return TierSafe
	}
	id := strings.ToLower(strings.TrimSpace(handler))
	if id == "" {
		return TierSafe
	}
	switch {
	case matches(id, c.dangerous):
		return TierDangerous
	case matches(id, c.requiresApproval):
		return TierRequiresApproval
	case matches(id, c.safe):
		return TierSafe
	}
	// 未列入任何集合的 handler 默认 SAFE。
	return TierSafe
}

// RequiresGate 判断 handler 在执行前是否需要经过审批闸门。
func (c *Classifier) RequiresGate(handler string) bool {
	return c.Classify(handler) != TierSafe
}

func matches(id string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if id == pattern || strings.Contains(id, pattern) {
			return true
		}
	}
	return false
}

func normalize(patterns []string) []string {
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.ToLower(strings.TrimSpace(pattern))
		if pattern == "" {
			continue
		}
		result = append(result, pattern)
	}
	return result
}
