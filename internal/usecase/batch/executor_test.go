package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"news-aggregator/internal/domain"
)

// fakeWriter исполняет операции по одной, как bulkWrite, и считает затронутые документы.
type fakeWriter struct {
	errFor func(op domain.BatchOp) error
	fatal  error
	calls  [][]domain.BatchOp
}

func (w *fakeWriter) BulkWrite(_ context.Context, ops []domain.BatchOp, ordered bool) (domain.BatchResult, error) {
	w.calls = append(w.calls, ops)
	if w.fatal != nil {
		return domain.BatchResult{}, w.fatal
	}
	var res domain.BatchResult
	for i, op := range ops {
		if w.errFor != nil {
			if err := w.errFor(op); err != nil {
				res.Errors = append(res.Errors, domain.NewOperationError(i, op.Kind(), err))
				if ordered {
					res.Applied = i
					res.NotAttempted = len(ops) - i - 1
					return res, nil
				}
				continue
			}
		}
		switch v := op.(type) {
		case domain.InsertOp:
			res.InsertedCount++
		case domain.UpdateOneOp:
			res.MatchedCount++
			res.ModifiedCount++
		case domain.ReplaceOneOp:
			if v.Upsert {
				res.UpsertedCount++
			} else {
				res.ModifiedCount++
			}
		case domain.DeleteManyOp:
			res.DeletedCount++
		}
	}
	res.Applied = len(ops) - len(res.Errors)
	return res, nil
}

type recordingAnalytics struct {
	events []domain.BusinessMetric
}

func (r *recordingAnalytics) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	r.events = append(r.events, m)
	return nil
}

var created = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func post(id int64) domain.Post {
	return domain.Post{
		PostID:    id,
		Title:     fmt.Sprintf("Пост %d", id),
		Content:   "Достаточно длинный текст",
		ChannelID: 7,
		Tags:      []string{"ai"},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func views(n int64) domain.PostUpdate {
	return domain.PostUpdate{Inc: domain.StatsDelta{Views: n}}
}

func duplicateKey(op domain.BatchOp) error {
	if ins, ok := op.(domain.InsertOp); ok && ins.Document.PostID == 2 {
		return fmt.Errorf("%w: E11000 duplicate key", domain.ErrValidation)
	}
	return nil
}

func mixedBatch() []domain.BatchOp {
	bad := post(4)
	bad.Title = "x"
	return []domain.BatchOp{
		domain.InsertOp{Document: post(1)},
		domain.InsertOp{Document: post(2)},
		domain.UpdateOneOp{PostID: 1, Update: views(10)},
		domain.InsertOp{Document: bad},
		domain.ReplaceOneOp{PostID: 5, Replacement: post(5), Upsert: true},
		domain.UpdateOneOp{PostID: 1},
	}
}

func TestApplyUnorderedCounterIdentity(t *testing.T) {
	writer := &fakeWriter{errFor: duplicateKey}
	analytics := &recordingAnalytics{}
	exec := NewExecutor(writer, analytics, zerolog.Nop())
	ops := mixedBatch()

	res, err := exec.Apply(context.Background(), ops, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Applied+len(res.Errors) != len(ops) {
		t.Fatalf("applied %d + errors %d != %d", res.Applied, len(res.Errors), len(ops))
	}
	docs := res.InsertedCount + res.ModifiedCount + res.UpsertedCount + res.DeletedCount
	if docs != int64(res.Applied) {
		t.Fatalf("сумма счётчиков %d не равна applied %d", docs, res.Applied)
	}
	wantIdx := []int{1, 3, 5}
	if len(res.Errors) != len(wantIdx) {
		t.Fatalf("ожидали ошибки %v, получили %+v", wantIdx, res.Errors)
	}
	for i, idx := range wantIdx {
		if res.Errors[i].Index != idx {
			t.Fatalf("ошибка %d: индекс %d, ожидали %d", i, res.Errors[i].Index, idx)
		}
		if res.Errors[i].Kind != "validation" {
			t.Fatalf("ошибка %d: вид %q", i, res.Errors[i].Kind)
		}
	}
	if res.Errors[0].Op != domain.OpInsert || res.Errors[2].Op != domain.OpUpdateOne {
		t.Fatalf("неверные виды операций в ошибках: %+v", res.Errors)
	}
	if len(writer.calls) != 1 || len(writer.calls[0]) != 4 {
		t.Fatalf("в хранилище должны уйти только валидные операции: %v", writer.calls)
	}
	if len(analytics.events) != 1 || analytics.events[0].Event != domain.BusinessMetricEventBatchApplied {
		t.Fatalf("ожидали событие batch_applied, получили %+v", analytics.events)
	}
}

func TestApplyOrderedStopsAtFirstFailure(t *testing.T) {
	tests := []struct {
		name      string
		errFor    func(domain.BatchOp) error
		wantIdx   int
		wantKinds string
		applied   int
	}{
		{name: "store failure", errFor: duplicateKey, wantIdx: 1, wantKinds: "validation", applied: 1},
		{name: "invalid op", wantIdx: 3, wantKinds: "validation", applied: 3},
		{
			name: "conflict before invalid op",
			errFor: func(op domain.BatchOp) error {
				if _, ok := op.(domain.UpdateOneOp); ok {
					return fmt.Errorf("%w: write conflict", domain.ErrConflict)
				}
				return nil
			},
			wantIdx:   2,
			wantKinds: "conflict",
			applied:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewExecutor(&fakeWriter{errFor: tt.errFor}, nil, zerolog.Nop())
			ops := mixedBatch()
			res, err := exec.Apply(context.Background(), ops, true)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if len(res.Errors) != 1 || res.Errors[0].Index != tt.wantIdx || res.Errors[0].Kind != tt.wantKinds {
				t.Fatalf("ожидали одну ошибку %d/%s, получили %+v", tt.wantIdx, tt.wantKinds, res.Errors)
			}
			if res.Applied != tt.applied {
				t.Fatalf("applied = %d, ожидали %d", res.Applied, tt.applied)
			}
			if res.NotAttempted != len(ops)-tt.wantIdx-1 {
				t.Fatalf("not_attempted = %d", res.NotAttempted)
			}
		})
	}
}

func TestApplyWholeBatchFailure(t *testing.T) {
	exec := NewExecutor(&fakeWriter{fatal: fmt.Errorf("%w: server selection timeout", domain.ErrUnavailable)}, nil, zerolog.Nop())
	_, err := exec.Apply(context.Background(), mixedBatch(), false)
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("ожидали ErrUnavailable, получили %v", err)
	}
}

func TestApplyAllInvalidSkipsStore(t *testing.T) {
	writer := &fakeWriter{}
	exec := NewExecutor(writer, nil, zerolog.Nop())
	ops := []domain.BatchOp{
		domain.UpdateManyOp{Update: views(1)},
		domain.DeleteManyOp{ViewsBelow: 100},
		nil,
	}
	res, err := exec.Apply(context.Background(), ops, false)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(writer.calls) != 0 {
		t.Fatalf("хранилище не должно вызываться")
	}
	if res.Applied != 0 || len(res.Errors) != 3 {
		t.Fatalf("неожиданный итог: %+v", res)
	}
}

func TestApplyEmpty(t *testing.T) {
	writer := &fakeWriter{}
	res, err := NewExecutor(writer, nil, zerolog.Nop()).Apply(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if res.Applied != 0 || res.Partial() || len(writer.calls) != 0 {
		t.Fatalf("пустой пакет должен давать пустой итог: %+v", res)
	}
}
