package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

type stubQueue struct {
	jobs     []domain.BatchJob
	enqueued []domain.BatchJob
	acks     []bool
	cancel   context.CancelFunc
}

func (q *stubQueue) Enqueue(_ context.Context, job domain.BatchJob) error {
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *stubQueue) Receive(ctx context.Context) (domain.BatchJob, domain.AckFunc, error) {
	if len(q.jobs) == 0 {
		q.cancel()
		return domain.BatchJob{}, nil, context.Canceled
	}
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	return job, func(success bool) error {
		q.acks = append(q.acks, success)
		return nil
	}, nil
}

type stubStatuses struct {
	done     map[string]bool
	attempts map[string]int
	results  map[string]domain.BatchResult
}

func newStubStatuses() *stubStatuses {
	return &stubStatuses{done: map[string]bool{}, attempts: map[string]int{}, results: map[string]domain.BatchResult{}}
}

func (s *stubStatuses) EnsureBatchJob(_ context.Context, id string) (bool, int, error) {
	s.attempts[id]++
	return s.done[id], s.attempts[id], nil
}

func (s *stubStatuses) MarkBatchJobDone(_ context.Context, id string, res domain.BatchResult) error {
	s.done[id] = true
	s.results[id] = res
	return nil
}

func newWorker(q *stubQueue, st *stubStatuses, writer domain.BulkWriter, analytics domain.BusinessMetricRepo, max int) *Worker {
	w := NewWorker(q, st, NewExecutor(writer, analytics, zerolog.Nop()), max, zerolog.Nop())
	w.pause = 0
	return w
}

func TestWorkerAppliesAndMarksDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := NewJob([]domain.BatchOp{domain.InsertOp{Document: post(1)}}, false, domain.BatchCauseAPI, created)
	q := &stubQueue{jobs: []domain.BatchJob{job}, cancel: cancel}
	st := newStubStatuses()

	newWorker(q, st, &fakeWriter{}, nil, 3).Run(ctx)

	if !st.done[job.ID] {
		t.Fatalf("задача должна быть помечена завершённой")
	}
	if st.results[job.ID].InsertedCount != 1 {
		t.Fatalf("итог не сохранён: %+v", st.results[job.ID])
	}
	if len(q.acks) != 1 || !q.acks[0] {
		t.Fatalf("ожидали подтверждение, получили %v", q.acks)
	}
}

func TestWorkerRequeuesWhileStoreUnavailable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	job := NewJob([]domain.BatchOp{domain.InsertOp{Document: post(1)}}, false, domain.BatchCauseAPI, created)
	q := &stubQueue{jobs: []domain.BatchJob{job, job, job}, cancel: cancel}
	st := newStubStatuses()
	writer := &fakeWriter{fatal: fmt.Errorf("%w: connection reset", domain.ErrUnavailable)}

	newWorker(q, st, writer, nil, 2).Run(ctx)

	want := []bool{false, true, true}
	if fmt.Sprint(q.acks) != fmt.Sprint(want) {
		t.Fatalf("ожидали подтверждения %v, получили %v", want, q.acks)
	}
	if !st.done[job.ID] {
		t.Fatalf("после предела попыток задача помечается завершённой")
	}
	if len(writer.calls) != 2 {
		t.Fatalf("повторно применённая задача не должна уходить в хранилище, вызовов: %d", len(writer.calls))
	}
}

func TestWorkerDoesNotReplayIncrementsAfterStoreFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ops := []domain.BatchOp{
		domain.InsertOp{Document: post(1)},
		domain.UpdateOneOp{PostID: 1, Update: domain.PostUpdate{Inc: domain.StatsDelta{Views: 10}}},
	}
	job := NewJob(ops, true, domain.BatchCauseAPI, created)
	q := &stubQueue{jobs: []domain.BatchJob{job, job}, cancel: cancel}
	st := newStubStatuses()
	writer := &fakeWriter{fatal: fmt.Errorf("%w: connection reset", domain.ErrUnavailable)}

	newWorker(q, st, writer, nil, 5).Run(ctx)

	if fmt.Sprint(q.acks) != fmt.Sprint([]bool{true, true}) {
		t.Fatalf("пакет с инкрементами не возвращается в очередь: %v", q.acks)
	}
	if len(writer.calls) != 1 || !st.done[job.ID] {
		t.Fatalf("пакет применяется один раз и помечается завершённым: вызовов %d", len(writer.calls))
	}
}

func TestWorkerRequeuesIncrementsNotSent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ops := []domain.BatchOp{domain.UpdateOneOp{PostID: 1, Update: domain.PostUpdate{Inc: domain.StatsDelta{Likes: 1}}}}
	job := NewJob(ops, false, domain.BatchCauseAPI, created)
	q := &stubQueue{jobs: []domain.BatchJob{job}, cancel: cancel}
	writer := &fakeWriter{fatal: fmt.Errorf("%w: %w: server selection timeout", domain.ErrUnavailable, domain.ErrNotSent)}

	newWorker(q, newStubStatuses(), writer, nil, 5).Run(ctx)

	if len(q.acks) != 1 || q.acks[0] {
		t.Fatalf("неотправленный пакет возвращается в очередь: %v", q.acks)
	}
}

func TestWorkerAcksJobWithoutID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &stubQueue{jobs: []domain.BatchJob{{}}, cancel: cancel}
	st := newStubStatuses()
	writer := &fakeWriter{}

	newWorker(q, st, writer, nil, 2).Run(ctx)

	if len(q.acks) != 1 || !q.acks[0] || len(writer.calls) != 0 {
		t.Fatalf("задача без идентификатора подтверждается без применения")
	}
}

func TestRetentionEnqueuesAndWorkerRecords(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := &stubQueue{cancel: cancel}
	analytics := &recordingAnalytics{}
	writer := &fakeWriter{}
	exec := NewExecutor(writer, analytics, zerolog.Nop())
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	r := NewRetention(exec, q, 365*24*time.Hour, 100, zerolog.Nop())
	r.now = func() time.Time { return now }
	if err := r.RunOnce(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(q.enqueued) != 1 || q.enqueued[0].Cause != domain.BatchCauseRetention {
		t.Fatalf("ожидали задачу очистки в очереди: %+v", q.enqueued)
	}
	op, ok := q.enqueued[0].Operations[0].(domain.DeleteManyOp)
	if !ok || !op.CreatedBefore.Equal(now.Add(-365*24*time.Hour)) || op.ViewsBelow != 100 {
		t.Fatalf("неверная операция очистки: %+v", q.enqueued[0].Operations[0])
	}

	q.jobs = q.enqueued
	w := NewWorker(q, newStubStatuses(), exec, 3, zerolog.Nop())
	w.Run(ctx)

	var events []string
	for _, e := range analytics.events {
		events = append(events, e.Event)
	}
	want := []string{domain.BusinessMetricEventBatchApplied, domain.BusinessMetricEventRetentionApplied}
	if fmt.Sprint(events) != fmt.Sprint(want) {
		t.Fatalf("ожидали события %v, получили %v", want, events)
	}
}

func TestRetentionAppliesDirectly(t *testing.T) {
	writer := &fakeWriter{}
	analytics := &recordingAnalytics{}
	r := NewRetention(NewExecutor(writer, analytics, zerolog.Nop()), nil, time.Hour, 10, zerolog.Nop())
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(writer.calls) != 1 || len(analytics.events) != 2 {
		t.Fatalf("очистка без очереди применяется сразу: вызовов %d, событий %d", len(writer.calls), len(analytics.events))
	}
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	if _, err := Submit(context.Background(), &stubQueue{}, nil, false, domain.BatchCauseAPI); err == nil {
		t.Fatalf("ожидали ошибку для пустого пакета")
	}
}
