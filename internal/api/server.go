package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "AgentWarden/internal/errors"
	"AgentWarden/internal/task"
	"AgentWarden/internal/warden"
)

// Server 负责暴露 REST 接口，供外部提交、审批与查询任务。
type Server struct {
	addr    string
	service *warden.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *warden.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /api/v1/tasks/{id}/context", s.handleTaskContext)
	mux.HandleFunc("POST /api/v1/tasks/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/v1/tasks/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/v1/queries", s.handleQuery)
	mux.HandleFunc("POST /api/v1/plans/{id}/extract", s.handleExtractPlan)
	mux.HandleFunc("DELETE /api/v1/plans/{id}", s.handleCancelPlan)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleCreateTask 处理创建任务的请求。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var spec task.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	t, err := s.service.Submit(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// handleListTasks 处理任务列表查询，支持状态、标签与数量过滤。
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := listOptionsFromQuery(r)
	tasks, err := s.service.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	t, err := s.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTaskContext(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	bound, err := s.service.TaskContext(r.Context(), r.PathValue("id"), r.URL.Query().Get("agent_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bound)
}

// decisionRequest 是审批接口的请求体。
type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

// decisionResponse 回传审批是否生效。未授权与状态冲突都表现为
// applied=false，不向调用方泄露区别。
type decisionResponse struct {
	TaskID  string `json:"task_id"`
	Applied bool   `json:"applied"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.service.Approve)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleDecision(w, r, s.service.Reject)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request, decide func(context.Context, string, string, string) bool) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	id := r.PathValue("id")
	applied := decide(r.Context(), id, req.Approver, req.Reason)
	writeJSON(w, http.StatusOK, decisionResponse{TaskID: id, Applied: applied})
}

// queryRequest 是自由文本请求的请求体。
type queryRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	tasks, err := s.service.SubmitQuery(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleExtractPlan(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	tasks, err := s.service.ExtractPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCancelPlan(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	canceled, err := s.service.CancelPlan(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"canceled": canceled})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.service == nil {
		http.Error(w, "服务未初始化", http.StatusServiceUnavailable)
		return
	}

	stats, err := s.service.Stats(r.Context(), listOptionsFromQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptionsFromQuery(r *http.Request) task.ListOptions {
	query := r.URL.Query()

	var opts []task.ListOption
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 2)
		for _, value := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(value))
			if task.IsValidStatus(status) {
				statuses = append(statuses, status)
			}
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("tags"); raw != "" {
		opts = append(opts, task.WithTags(strings.Split(raw, ",")...))
	}
	if raw := query.Get("handler"); raw != "" {
		opts = append(opts, task.WithHandler(raw))
	}
	return task.NewListOptions(opts...)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 把统一错误码映射到 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case task.CodeTaskNotFound, xerrors.CodeNotFound:
		status = http.StatusNotFound
	case task.CodeTaskConflict, xerrors.CodeConflict:
		status = http.StatusConflict
	case task.CodeTaskValidation, xerrors.CodeInvalidArgument:
		status = http.StatusBadRequest
	case xerrors.CodeUnauthorized:
		status = http.StatusForbidden
	case xerrors.CodeInitializationFailure:
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
