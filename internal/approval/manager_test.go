package approval

import (
	"context"
	"testing"

	"AgentWarden/internal/memory"
	"AgentWarden/internal/task"
)

func newGatedTask(t *testing.T, queue *task.MemoryQueue) *task.Task {
	t.Helper()
	created, err := queue.Enqueue(context.Background(), task.Spec{Handler: "git_commit"})
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	if created.Status != task.StatusPendingApproval {
		t.Fatalf("预置任务状态错误: %s", created.Status)
	}
	return created
}

func gateAll(string) bool { return true }

func TestApproveByPrivilegedIdentity(t *testing.T) {
	ctx := context.Background()
	queue := task.NewMemoryQueue(gateAll)
	manager := NewManager("Igor", queue)
	created := newGatedTask(t, queue)

	if !manager.Approve(ctx, created.ID, "Igor", "looks good") {
		t.Fatal("授权人批准应生效")
	}
	got, err := queue.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Status != task.StatusApproved || got.ApprovedBy != "Igor" || got.ApprovalReason != "looks good" {
		t.Fatalf("审批字段未写入: %+v", got)
	}
	if !manager.IsApproved(ctx, created.ID) {
		t.Fatal("IsApproved 应返回 true")
	}
}

func TestUnauthorizedApprovalIsSilentlyIgnored(t *testing.T) {
	ctx := context.Background()
	queue := task.NewMemoryQueue(gateAll)
	manager := NewManager("Igor", queue)
	created := newGatedTask(t, queue)

	for _, impostor := range []string{"igor ", "Mallory", "", "IGOR2"} {
		if manager.Approve(ctx, created.ID, impostor, "let me in") {
			t.Fatalf("非授权身份 %q 的批准不应生效", impostor)
		}
	}

	got, err := queue.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Status != task.StatusPendingApproval {
		t.Fatalf("未授权尝试后状态应不变，实际 %s", got.Status)
	}
	if len(manager.Records(created.ID)) != 0 {
		t.Fatal("未授权尝试不应产生审批记录")
	}
}

func TestIdentityComparisonTrimsWhitespaceOnly(t *testing.T) {
	ctx := context.Background()
	queue := task.NewMemoryQueue(gateAll)
	manager := NewManager("Igor", queue)
	created := newGatedTask(t, queue)

	// 身份匹配大小写敏感，只容忍首尾空白。
	if manager.Approve(ctx, created.ID, "igor", "case mismatch") {
		t.Fatal("大小写不同的身份不应通过")
	}
	if !manager.Approve(ctx, created.ID, "  Igor  ", "padded") {
		t.Fatal("仅首尾空白差异的身份应通过")
	}
}

func TestRejectIsTerminal(t *testing.T) {
	ctx := context.Background()
	queue := task.NewMemoryQueue(gateAll)
	manager := NewManager("Igor", queue)
	created := newGatedTask(t, queue)

	if !manager.Reject(ctx, created.ID, "Igor", "too risky") {
		t.Fatal("授权人拒绝应生效")
	}
	got, _ := queue.Get(ctx, created.ID)
	if got.Status != task.StatusRejected {
		t.Fatalf("期望 %s，实际 %s", task.StatusRejected, got.Status)
	}
	if manager.IsApproved(ctx, created.ID) {
		t.Fatal("拒绝后 IsApproved 应为 false")
	}

	// 终态后的再次审批不产生新记录。
	if manager.Approve(ctx, created.ID, "Igor", "second thoughts") {
		t.Fatal("终态任务的审批不应生效")
	}
	if records := manager.Records(created.ID); len(records) != 1 {
		t.Fatalf("期望 1 条审批记录，实际 %d", len(records))
	}
}

func TestRecordsAreAppendOnlyAndLatestWins(t *testing.T) {
	ctx := context.Background()
	// 两个任务走完整的 批准->失败->再审批 链路来验证记录追加语义。
	queue := task.NewMemoryQueue(gateAll)
	manager := NewManager("Igor", queue)
	created := newGatedTask(t, queue)

	if !manager.Approve(ctx, created.ID, "Igor", "first pass") {
		t.Fatal("批准失败")
	}
	// 模拟执行期闸门把任务退回等待审批。
	if got, err := queue.Dequeue(ctx); err != nil || got == nil {
		t.Fatalf("出队失败: %v", err)
	}
	if err := queue.Release(ctx, created.ID); err != nil {
		t.Fatalf("退回失败: %v", err)
	}
	if !manager.Reject(ctx, created.ID, "Igor", "changed my mind") {
		t.Fatal("拒绝失败")
	}

	records := manager.Records(created.ID)
	if len(records) != 2 {
		t.Fatalf("期望 2 条记录，实际 %d", len(records))
	}
	if records[0].Decision != DecisionApproved || records[1].Decision != DecisionRejected {
		t.Fatalf("记录顺序错误: %v, %v", records[0].Decision, records[1].Decision)
	}
	if manager.IsApproved(ctx, created.ID) {
		t.Fatal("最近一条记录为拒绝时 IsApproved 应为 false")
	}
}

func TestDecisionPersistsAuditPacket(t *testing.T) {
	ctx := context.Background()
	queue := task.NewMemoryQueue(gateAll)
	store := memory.NewMemoryStore()
	manager := NewManager("Igor", queue, WithBinder(memory.NewBinder(store)))
	created := newGatedTask(t, queue)

	if !manager.Approve(ctx, created.ID, "Igor", "audited") {
		t.Fatal("批准失败")
	}

	packets, err := store.Search(ctx, memory.PacketApprovalRecord, map[string]string{"task_id": created.ID})
	if err != nil {
		t.Fatalf("查询审计 packet 失败: %v", err)
	}
	if len(packets) != 1 {
		t.Fatalf("期望 1 条审计 packet，实际 %d", len(packets))
	}
	if packets[0].Payload["decision"] != string(DecisionApproved) {
		t.Fatalf("审计内容错误: %+v", packets[0].Payload)
	}
}
