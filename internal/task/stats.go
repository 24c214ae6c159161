package task

// Stats 聚合了任务状态的统计信息，常用于仪表盘或健康检查。
type Stats struct {
	Total           int   `json:"total"`
	PendingApproval int   `json:"pending_igor_approval"`
	Approved        int   `json:"approved"`
	Rejected        int   `json:"rejected"`
	Ready           int   `json:"ready"`
	Running         int   `json:"running"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

func (s *Stats) observe(t *Task) {
	s.Total++
	switch t.Status {
	case StatusPendingApproval:
		s.PendingApproval++
	case StatusApproved:
		s.Approved++
	case StatusRejected:
		s.Rejected++
	case StatusReady:
		s.Ready++
	case StatusRunning:
		s.Running++
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
	}
	if t.UpdatedAt > s.NewestUpdatedAt {
		s.NewestUpdatedAt = t.UpdatedAt
	}
	if s.OldestUpdatedAt == 0 || (t.UpdatedAt != 0 && t.UpdatedAt < s.OldestUpdatedAt) {
		s.OldestUpdatedAt = t.UpdatedAt
	}
}
