package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
	httpinfra "news-aggregator/internal/infra/http"
	"news-aggregator/internal/usecase/batch"
)

// maxBodyBytes ограничивает размер тела запроса.
const maxBodyBytes = 16 << 20

// PostCreator создаёт пост транзакционно.
type PostCreator interface {
	CreatePost(ctx context.Context, draft domain.PostDraft) (int64, error)
}

// BatchApplier синхронно применяет пакет операций.
type BatchApplier interface {
	Apply(ctx context.Context, ops []domain.BatchOp, ordered bool) (domain.BatchResult, error)
}

// ReportReader отдаёт отчёты по каналам.
type ReportReader interface {
	GetChannelReport(ctx context.Context, channelID int64) (domain.CacheRecord, error)
	ListTopChannels(ctx context.Context, limit int, sortKey domain.ReportSortKey) ([]domain.CacheRecord, error)
}

// WeeklyReporter строит недельный отчёт.
type WeeklyReporter interface {
	WeeklyReport(ctx context.Context) (domain.WeeklyReport, error)
}

// Handler обслуживает REST API агрегатора.
type Handler struct {
	posts   PostCreator
	batches BatchApplier
	reports ReportReader
	weekly  WeeklyReporter
	queue   domain.BatchQueue
	log     zerolog.Logger
}

// NewHandler создаёт обработчик. queue может быть nil, тогда асинхронные пакеты недоступны.
func NewHandler(posts PostCreator, batches BatchApplier, reports ReportReader, weekly WeeklyReporter, queue domain.BatchQueue, logger zerolog.Logger) *Handler {
	return &Handler{
		posts:   posts,
		batches: batches,
		reports: reports,
		weekly:  weekly,
		queue:   queue,
		log:     logger,
	}
}

// Mount регистрирует маршруты /api/v1.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/channels/top", h.listTopChannels)
		r.Get("/channels/{id}/report", h.getChannelReport)
		r.Get("/reports/weekly", h.weeklyReport)
		r.Post("/posts", h.createPost)
		r.Post("/posts/batch", h.applyBatch)
		r.Post("/posts/batch/jobs", h.enqueueBatch)
	})
}

type createPostResponse struct {
	PostID int64 `json:"post_id"`
}

type batchRequest struct {
	Ordered    *bool           `json:"ordered,omitempty"`
	Operations domain.BatchOps `json:"operations"`
}

type batchJobResponse struct {
	JobID string `json:"job_id"`
}

func (h *Handler) getChannelReport(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, fmt.Errorf("%w: некорректный id канала", domain.ErrValidation))
		return
	}
	record, err := h.reports.GetChannelReport(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, record)
}

func (h *Handler) listTopChannels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.fail(w, r, fmt.Errorf("%w: некорректный limit", domain.ErrValidation))
			return
		}
		limit = n
	}
	sortKey, err := domain.ParseReportSortKey(q.Get("sort"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.reports.ListTopChannels(r.Context(), limit, sortKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, records)
}

func (h *Handler) weeklyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.weekly.WeeklyReport(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) createPost(w http.ResponseWriter, r *http.Request) {
	var draft domain.PostDraft
	if err := decode(w, r, &draft); err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := h.posts.CreatePost(r.Context(), draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusCreated, createPostResponse{PostID: id})
}

func (h *Handler) applyBatch(w http.ResponseWriter, r *http.Request) {
	req, err := decodeBatch(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.batches.Apply(r.Context(), req.Operations, *req.Ordered)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpinfra.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) enqueueBatch(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		h.fail(w, r, fmt.Errorf("%w: очередь пакетов не настроена", domain.ErrUnavailable))
		return
	}
	req, err := decodeBatch(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	job, err := batch.Submit(r.Context(), h.queue, req.Operations, *req.Ordered, domain.BatchCauseAPI)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info().Str("job_id", job.ID).Int("ops", len(job.Operations)).Msg("api: пакет поставлен в очередь")
	httpinfra.WriteJSON(w, http.StatusAccepted, batchJobResponse{JobID: job.ID})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpinfra.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", httpinfra.RequestID(r)).
			Str("path", r.URL.Path).
			Msg("api: ошибка обработки запроса")
	}
	httpinfra.WriteError(w, status, err)
}

// decodeBatch читает тело пакета. Параметр ordered в строке запроса главнее поля тела.
func decodeBatch(w http.ResponseWriter, r *http.Request) (batchRequest, error) {
	var req batchRequest
	if err := decode(w, r, &req); err != nil {
		return batchRequest{}, err
	}
	ordered := false
	if req.Ordered != nil {
		ordered = *req.Ordered
	}
	if raw := r.URL.Query().Get("ordered"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return batchRequest{}, fmt.Errorf("%w: некорректный ordered", domain.ErrValidation)
		}
		ordered = v
	}
	req.Ordered = &ordered
	if len(req.Operations) == 0 {
		return batchRequest{}, fmt.Errorf("%w: пустой пакет", domain.ErrValidation)
	}
	return req, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: тело запроса больше %d байт", domain.ErrValidation, maxErr.Limit)
		}
		if errors.Is(err, domain.ErrValidation) {
			return err
		}
		return fmt.Errorf("%w: некорректный JSON: %v", domain.ErrValidation, err)
	}
	return nil
}
