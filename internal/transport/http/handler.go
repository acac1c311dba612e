package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/failure"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/service"
)

type Handler struct {
	jobSvc *service.JobService
	log    zerolog.Logger
}

func NewHandler(jobSvc *service.JobService, log zerolog.Logger) *Handler {
	return &Handler{jobSvc: jobSvc, log: log.With().Str("component", "http").Logger()}
}

type createJobDTO struct {
	OwnerID  string   `json:"owner_id"`
	Platform string   `json:"platform"`
	URLs     []string `json:"urls"`
}

type jobErrorResp struct {
	Category   string `json:"category"`
	Message    string `json:"message"`
	Actionable string `json:"actionable_message,omitempty"`
}

type jobResp struct {
	ID            string        `json:"id"`
	OwnerID       string        `json:"owner_id"`
	Platform      string        `json:"platform"`
	URLs          []string      `json:"urls"`
	Status        string        `json:"status"`
	RetryCount    int           `json:"retry_count"`
	MaxRetries    int           `json:"max_retries"`
	FailedAtStage *string       `json:"failed_at_stage,omitempty"`
	DisplayName   string        `json:"display_name,omitempty"`
	Error         *jobErrorResp `json:"error,omitempty"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
}

func toJobResp(j *entity.Job) jobResp {
	resp := jobResp{
		ID:          j.ID.String(),
		OwnerID:     j.OwnerID,
		Platform:    string(j.Platform),
		URLs:        j.URLs,
		Status:      string(j.Status),
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		DisplayName: j.DisplayName,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Status == entity.StatusFailed && j.LastStage != nil {
		s := string(*j.LastStage)
		resp.FailedAtStage = &s
	}
	resp.Error = toErrorResp(j.Error)
	return resp
}

// toErrorResp drops the operator diagnostic.
func toErrorResp(e *entity.JobError) *jobErrorResp {
	if e == nil {
		return nil
	}
	return &jobErrorResp{
		Category:   e.Category,
		Message:    e.Message,
		Actionable: failure.ActionHint(failure.Category(e.Category)),
	}
}

type ledgerResp struct {
	JobID   string               `json:"job_id"`
	Status  string               `json:"status"`
	Entries []entity.LedgerEntry `json:"entries"`
	LastSeq int64                `json:"last_seq"`
}

type resultResp struct {
	JobID  string          `json:"job_id"`
	Status string          `json:"status"`
	Result json.RawMessage `json:"result" swaggertype:"object"`
	Error  *jobErrorResp   `json:"error,omitempty"`
}

// CreateJob godoc
// @Summary Submit links for analysis
// @Description Creates the job, records request_created and enqueues it. The returned job is processing.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "owner, platform and links"
// @Success 202 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.jobSvc.Submit(r.Context(), service.SubmitRequest{
		OwnerID:  dto.OwnerID,
		Platform: entity.Platform(dto.Platform),
		URLs:     dto.URLs,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResp(job))
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	j, err := h.jobSvc.GetJob(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResp(j))
}

// GetJobLedger godoc
// @Summary Get job progress entries
// @Description Entries in creation order. Pass the returned last_seq as since to poll for new entries only.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Param since query int false "return entries with seq greater than this"
// @Success 200 {object} ledgerResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/ledger [get]
func (h *Handler) GetJobLedger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			writeErr(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = n
	}

	p, err := h.jobSvc.Progress(r.Context(), id, since)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledgerResp{
		JobID:   p.JobID.String(),
		Status:  string(p.Status),
		Entries: p.Entries,
		LastSeq: p.LastSeq,
	})
}

// GetJobResult godoc
// @Summary Get job result
// @Description The content preview once displaying_content is reached, the analysis once completed.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} resultResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	res, err := h.jobSvc.Result(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(res.Result) == 0 {
		writeErr(w, http.StatusConflict, "result not ready")
		return
	}
	writeJSON(w, http.StatusOK, resultResp{
		JobID:  res.JobID.String(),
		Status: string(res.Status),
		Result: res.Result,
		Error:  toErrorResp(res.Error),
	})
}

// RetryJob godoc
// @Summary Retry a failed job
// @Description Allowed only for failed jobs with retry budget left whose latest error is retryable.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 202 {object} jobResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/retry [post]
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	j, err := h.jobSvc.Retry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toJobResp(j))
}

// GetThread godoc
// @Summary Get the conversation thread of a resource
// @Tags resources
// @Produce json
// @Param id path string true "resource id (uuid)"
// @Success 200 {array} entity.ChatMessage
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /resources/{id}/thread [get]
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	msgs, err := h.jobSvc.Thread(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

// fail maps service errors to responses. Unexpected errors are logged and
// rendered without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSubmission):
		writeErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entity.ErrNotFound):
		writeErr(w, http.StatusNotFound, "not found")
	case errors.Is(err, pipeline.ErrRetryPrecondition):
		writeErr(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeErr(w, http.StatusInternalServerError, "internal error")
	}
}
