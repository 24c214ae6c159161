package task

import (
	"context"
	"testing"

	xerrors "AgentWarden/internal/errors"
)

func gateNone(string) bool { return false }

func mustEnqueue(t *testing.T, q *MemoryQueue, spec Spec) *Task {
	t.Helper()
	created, err := q.Enqueue(context.Background(), spec)
	if err != nil {
		t.Fatalf("入队失败: %v", err)
	}
	return created
}

func TestEnqueueRejectsMissingHandler(t *testing.T) {
	q := NewMemoryQueue(gateNone)
	if _, err := q.Enqueue(context.Background(), Spec{Name: "no handler"}); err == nil {
		t.Fatal("缺少 handler 的任务不应入队")
	} else if xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("期望错误码 %s，实际 %s", CodeTaskValidation, xerrors.CodeOf(err))
	}
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(gateNone, WithDefaultPriority(1))

	first := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 5})
	mustEnqueue(t, q, Spec{Handler: "echo", Priority: 1})
	third := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 5})

	got1, err := q.Dequeue(ctx)
	if err != nil || got1 == nil {
		t.Fatalf("出队失败: %v", err)
	}
	got2, err := q.Dequeue(ctx)
	if err != nil || got2 == nil {
		t.Fatalf("出队失败: %v", err)
	}
	if got1.ID != first.ID || got2.ID != third.ID {
		t.Fatalf("同优先级应按入队顺序出队，实际 %s, %s", got1.ID, got2.ID)
	}
	if got1.Status != StatusRunning || got1.Attempts != 1 {
		t.Fatalf("出队任务应为 running 且计一次领取，实际 %s/%d", got1.Status, got1.Attempts)
	}

	got3, err := q.Dequeue(ctx)
	if err != nil || got3 == nil {
		t.Fatalf("出队失败: %v", err)
	}
	if empty, err := q.Dequeue(ctx); err != nil || empty != nil {
		t.Fatalf("空队列应返回 (nil, nil)，实际 %v, %v", empty, err)
	}
}

func TestDequeueFiltersByTagsWithoutLosingTasks(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(gateNone, WithDefaultPriority(1))

	other := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 9})
	tagged := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 1, Tags: []string{"plan-1"}})

	got, err := q.Dequeue(ctx, "plan-1")
	if err != nil || got == nil {
		t.Fatalf("按标签出队失败: %v", err)
	}
	if got.ID != tagged.ID {
		t.Fatalf("期望出队 %s，实际 %s", tagged.ID, got.ID)
	}

	// 被跳过的高优先级任务必须还在队列里。
	rest, err := q.Dequeue(ctx)
	if err != nil || rest == nil {
		t.Fatalf("出队失败: %v", err)
	}
	if rest.ID != other.ID {
		t.Fatalf("跳过的任务丢失，期望 %s，实际 %s", other.ID, rest.ID)
	}
}

func TestRequeuePreservesQueueOrder(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(gateNone, WithDefaultPriority(1))

	first := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 3})
	mustEnqueue(t, q, Spec{Handler: "echo", Priority: 3})

	got, err := q.Dequeue(ctx)
	if err != nil || got == nil || got.ID != first.ID {
		t.Fatalf("出队失败: %v", err)
	}
	if err := q.Requeue(ctx, first.ID); err != nil {
		t.Fatalf("退回队列失败: %v", err)
	}

	// 保留原始入队顺序：退回的任务仍然排在同优先级的最前面。
	again, err := q.Dequeue(ctx)
	if err != nil || again == nil {
		t.Fatalf("出队失败: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("退回的任务应保持原有顺序，期望 %s，实际 %s", first.ID, again.ID)
	}
}

func TestGatedTaskIsNotDispatchedUntilApproved(t *testing.T) {
	ctx := context.Background()
	gate := func(handler string) bool { return handler == "git_commit" }
	q := NewMemoryQueue(gate, WithDefaultPriority(1))

	gated := mustEnqueue(t, q, Spec{Handler: "git_commit", Priority: 10})
	if gated.Status != StatusPendingApproval {
		t.Fatalf("需审批任务的初始状态应为 %s，实际 %s", StatusPendingApproval, gated.Status)
	}

	if got, err := q.Dequeue(ctx); err != nil || got != nil {
		t.Fatalf("等待审批的任务不应被调度，实际 %v, %v", got, err)
	}

	if err := q.MarkApproved(ctx, gated.ID, "Igor", "reviewed", 1000); err != nil {
		t.Fatalf("批准失败: %v", err)
	}
	got, err := q.Dequeue(ctx)
	if err != nil || got == nil {
		t.Fatalf("批准后的任务应可调度: %v", err)
	}
	if got.ID != gated.ID || got.ApprovedBy != "Igor" || got.ApprovalTimestamp != 1000 {
		t.Fatalf("审批字段未写入: %+v", got)
	}
}

func TestMarkRejectedIsTerminal(t *testing.T) {
	ctx := context.Background()
	gate := func(string) bool { return true }
	q := NewMemoryQueue(gate)

	created := mustEnqueue(t, q, Spec{Handler: "git_commit"})
	if err := q.MarkRejected(ctx, created.ID, "Igor", "not now", 1000); err != nil {
		t.Fatalf("拒绝失败: %v", err)
	}
	if err := q.MarkApproved(ctx, created.ID, "Igor", "changed my mind", 1001); err == nil {
		t.Fatal("已拒绝的任务不应再被批准")
	}
	got, err := q.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if got.Status != StatusRejected {
		t.Fatalf("期望终态 %s，实际 %s", StatusRejected, got.Status)
	}
}

func TestCancelByTagSkipsRunningAndTerminal(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(gateNone, WithDefaultPriority(1))

	running := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 9, Tags: []string{"plan-9"}})
	waiting := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 1, Tags: []string{"plan-9"}})
	unrelated := mustEnqueue(t, q, Spec{Handler: "echo", Priority: 1, Tags: []string{"plan-other"}})

	if got, err := q.Dequeue(ctx); err != nil || got == nil || got.ID != running.ID {
		t.Fatalf("预置 running 任务失败: %v", err)
	}

	canceled, err := q.CancelByTag(ctx, "plan-9")
	if err != nil {
		t.Fatalf("按标签取消失败: %v", err)
	}
	if canceled != 1 {
		t.Fatalf("期望取消 1 个任务，实际 %d", canceled)
	}

	gotWaiting, _ := q.Get(ctx, waiting.ID)
	if gotWaiting.Status != StatusFailed || gotWaiting.ErrorCode != string(CodeTaskCanceled) {
		t.Fatalf("被取消任务应为 failed/%s，实际 %s/%s", CodeTaskCanceled, gotWaiting.Status, gotWaiting.ErrorCode)
	}
	gotRunning, _ := q.Get(ctx, running.ID)
	if gotRunning.Status != StatusRunning {
		t.Fatalf("执行中的任务不应被取消，实际 %s", gotRunning.Status)
	}
	gotUnrelated, _ := q.Get(ctx, unrelated.ID)
	if gotUnrelated.Status != StatusReady {
		t.Fatalf("无关任务不应被取消，实际 %s", gotUnrelated.Status)
	}

	// 被取消的任务不会再被调度。
	if got, err := q.Dequeue(ctx); err != nil || (got != nil && got.ID == waiting.ID) {
		t.Fatalf("被取消的任务仍被调度: %v, %v", got, err)
	}
}

func TestListAndStatsFilter(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(gateNone, WithDefaultPriority(1))

	mustEnqueue(t, q, Spec{Handler: "echo"})
	done := mustEnqueue(t, q, Spec{Handler: "report"})
	got, err := q.Dequeue(ctx)
	if err != nil || got == nil {
		t.Fatalf("出队失败: %v", err)
	}
	for got.ID != done.ID {
		got, err = q.Dequeue(ctx)
		if err != nil || got == nil {
			t.Fatalf("出队失败: %v", err)
		}
	}
	if err := q.MarkCompleted(ctx, done.ID, ExecutionResult{TaskID: done.ID, Success: true}); err != nil {
		t.Fatalf("标记完成失败: %v", err)
	}

	completed, err := q.List(ctx, NewListOptions(WithStatuses(StatusCompleted)))
	if err != nil {
		t.Fatalf("列表查询失败: %v", err)
	}
	if len(completed) != 1 || completed[0].ID != done.ID {
		t.Fatalf("状态过滤结果错误: %v", completed)
	}
	if completed[0].Result == nil || !completed[0].Result.Success {
		t.Fatal("完成任务应携带执行结果")
	}

	stats, err := q.Stats(ctx, NewListOptions())
	if err != nil {
		t.Fatalf("统计失败: %v", err)
	}
	if stats.Total != 2 || stats.Completed != 1 {
		t.Fatalf("统计结果错误: %+v", stats)
	}
}

func TestDequeueReturnsIsolatedCopy(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(gateNone, WithDefaultPriority(1))

	created := mustEnqueue(t, q, Spec{Handler: "echo", Payload: map[string]any{"key": "value"}})
	got, err := q.Dequeue(ctx)
	if err != nil || got == nil {
		t.Fatalf("出队失败: %v", err)
	}
	got.Payload["key"] = "mutated"
	got.Status = StatusFailed

	stored, err := q.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if stored.Payload["key"] != "value" || stored.Status != StatusRunning {
		t.Fatalf("队列内部状态被外部修改污染: %+v", stored)
	}
}
