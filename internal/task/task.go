package task

import (
	xerrors "AgentWarden/internal/errors"
)

// Status 表示任务在审批与执行生命周期中的状态。
type Status string

const (
	// StatusPendingApproval 表示任务在执行前必须等待授权人批准。
	StatusPendingApproval Status = "pending_igor_approval"
	// StatusApproved 表示授权人已批准，任务可以被调度。
	StatusApproved Status = "approved"
	// StatusRejected 表示授权人拒绝执行，任务进入终态。
	StatusRejected Status = "rejected"
	// StatusReady 表示任务无需审批或已就绪，等待调度。
	StatusReady Status = "ready"
	// StatusRunning 表示任务已被执行器领取。
	StatusRunning Status = "running"
	// StatusCompleted 表示任务执行成功，进入终态。
	StatusCompleted Status = "completed"
	// StatusFailed 表示任务执行失败或被取消，进入终态。
	StatusFailed Status = "failed"
)

// Spec 描述创建任务所需的全部输入。
type Spec struct {
	Name    string         `json:"name"`
	Handler string         `json:"handler"`
	Payload map[string]any `json:"payload,omitempty"`
	// Priority 为 0 时使用队列的默认优先级。
	Priority int      `json:"priority,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// ExecutionResult 保存一次任务执行（含重试）的最终结果。
type ExecutionResult struct {
	TaskID      string         `json:"task_id"`
	Success     bool           `json:"success"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	RetriesUsed int            `json:"retries_used"`
	CompletedAt int64          `json:"completed_at"`
}

// Task 描述了排队等待执行的受管控任务。
type Task struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Handler  string         `json:"handler"`
	Payload  map[string]any `json:"payload,omitempty"`
	Priority int            `json:"priority"`
	Tags     []string       `json:"tags,omitempty"`
	Status   Status         `json:"status"`

	// 审批字段只允许由审批管理器写入。
	ApprovedBy        string `json:"approved_by,omitempty"`
	ApprovalTimestamp int64  `json:"approval_timestamp,omitempty"`
	ApprovalReason    string `json:"approval_reason,omitempty"`

	Attempts  int              `json:"attempts"`
	LastError string           `json:"last_error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
	Result    *ExecutionResult `json:"result,omitempty"`
	CreatedAt int64            `json:"created_at"`
	UpdatedAt int64            `json:"updated_at"`
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidSpec 表示任务描述不完整，无法入队。
	ErrInvalidSpec = xerrors.New(CodeTaskValidation, "invalid task spec")
)

const (
	CodeTaskNotFound        xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict        xerrors.Code = "TASK_CONFLICT"
	CodeTaskValidation      xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskBlocked         xerrors.Code = "TASK_BLOCKED"
	CodeTaskPendingApproval xerrors.Code = "TASK_PENDING_APPROVAL"
	CodeTaskCanceled        xerrors.Code = "TASK_CANCELED"
	CodeTaskExhausted       xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskExecution       xerrors.Code = "TASK_EXECUTION_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:   "task not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:   "task conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:   "task validation failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskBlocked, xerrors.Attributes{
		Message:   "handler is hard-blocked by safety policy",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskPendingApproval, xerrors.Attributes{
		Message:   "task awaits approval by the privileged identity",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskCanceled, xerrors.Attributes{
		Message:   "task canceled before execution",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:   "task retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskExecution, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPendingApproval, StatusApproved, StatusRejected,
		StatusReady, StatusRunning, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// HasAllTags 判断任务是否携带全部给定标签。
func (t *Task) HasAllTags(tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, want := range tags {
		found := false
		for _, have := range t.Tags {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	cloned := make(map[string]any, len(payload))
	for key, value := range payload {
		cloned[key] = value
	}
	return cloned
}

func cloneTask(t *Task) *Task {
	clone := *t
	clone.Payload = clonePayload(t.Payload)
	if t.Tags != nil {
		clone.Tags = append([]string(nil), t.Tags...)
	}
	if t.Result != nil {
		resultCopy := *t.Result
		resultCopy.Output = clonePayload(t.Result.Output)
		clone.Result = &resultCopy
	}
	return &clone
}
