package safety

import "testing"

func TestClassifyTiers(t *testing.T) {
	c := NewClassifier(Config{
		Dangerous:        []string{"deploy", "Drop"},
		RequiresApproval: []string{"git_commit", "payment"},
		Safe:             []string{"echo"},
	})

	cases := []struct {
		handler string
		want    Tier
	}{
		{"deploy", TierDangerous},
		{"deploy_production", TierDangerous},
		{"DROP_TABLE", TierDangerous},
		{"git_commit", TierRequiresApproval},
		{"payment_refund", TierRequiresApproval},
		{"echo", TierSafe},
		{"unknown_handler", TierSafe},
		{"", TierSafe},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.handler); got != tc.want {
			t.Errorf("Classify(%q) = %s，期望 %s", tc.handler, got, tc.want)
		}
	}
}

func TestClassifyOverlapPicksMostRestrictive(t *testing.T) {
	c := NewClassifier(Config{
		Dangerous:        []string{"deploy"},
		RequiresApproval: []string{"deploy", "commit"},
		Safe:             []string{"deploy_docs", "commit_log"},
	})

	// 同时命中多个分级时取最严格的结果。
	if got := c.Classify("deploy_docs"); got != TierDangerous {
		t.Fatalf("重叠命中应取 DANGEROUS，实际 %s", got)
	}
	if got := c.Classify("commit_log"); got != TierRequiresApproval {
		t.Fatalf("重叠命中应取 REQUIRES_APPROVAL，实际 %s", got)
	}
}

func TestClassifyExplicitSafeList(t *testing.T) {
	c := NewClassifier(Config{
		Dangerous:        []string{"deploy"},
		RequiresApproval: []string{"commit"},
		Safe:             []string{"Echo", "status_report"},
	})

	// safe 列表与归一化模式一样参与匹配（精确或子串，小写化）。
	for _, handler := range []string{"echo", "ECHO", "echo_loud", "status_report"} {
		if got := c.Classify(handler); got != TierSafe {
			t.Errorf("Classify(%q) = %s，期望 SAFE", handler, got)
		}
	}
	// 未列入任何集合的 handler 同样默认 SAFE。
	if got := c.Classify("unlisted"); got != TierSafe {
		t.Fatalf("未列入集合的 handler 应默认 SAFE，实际 %s", got)
	}
	// safe 列表不会放行更严格集合命中的 handler。
	if got := c.Classify("deploy"); got != TierDangerous {
		t.Fatalf("更严格的集合应优先，实际 %s", got)
	}
}

func TestRequiresGate(t *testing.T) {
	c := NewClassifier(Config{
		Dangerous:        []string{"deploy"},
		RequiresApproval: []string{"commit"},
	})

	if !c.RequiresGate("deploy") || !c.RequiresGate("commit") {
		t.Fatal("非 SAFE 分级都应经过闸门")
	}
	if c.RequiresGate("echo") {
		t.Fatal("SAFE 分级不应经过闸门")
	}
}

func TestNilClassifierDefaultsSafe(t *testing.T) {
	var c *Classifier
	if got := c.Classify("anything"); got != TierSafe {
		t.Fatalf("空分类器应默认 SAFE，实际 %s", got)
	}
}
