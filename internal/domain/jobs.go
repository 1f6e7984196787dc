package domain

import (
	"context"
	"time"
)

// BatchJobCause описывает источник пакетной задачи.
type BatchJobCause string

const (
	// BatchCauseAPI — пакет отправлен через HTTP API.
	BatchCauseAPI BatchJobCause = "api"
	// BatchCauseRetention — пакет сформирован задачей очистки старых постов.
	BatchCauseRetention BatchJobCause = "retention"
)

// BatchJob содержит пакет операций для асинхронного применения.
type BatchJob struct {
	ID          string        `json:"job_id"`
	Ordered     bool          `json:"ordered"`
	Operations  BatchOps      `json:"operations"`
	RequestedAt time.Time     `json:"requested_at"`
	Cause       BatchJobCause `json:"cause"`
}

// BatchQueue описывает очередь пакетных задач.
type BatchQueue interface {
	Enqueue(ctx context.Context, job BatchJob) error
	Receive(ctx context.Context) (BatchJob, AckFunc, error)
}

// AckFunc подтверждает успешную обработку или запрашивает повтор доставки задачи.
type AckFunc func(success bool) error

// BatchJobStatusRepo отслеживает попытки применения пакетных задач.
type BatchJobStatusRepo interface {
	// EnsureBatchJob регистрирует попытку обработки и возвращает признак
	// завершённости задачи и номер текущей попытки.
	EnsureBatchJob(ctx context.Context, jobID string) (done bool, attempt int, err error)
	// MarkBatchJobDone помечает задачу завершённой и сохраняет итог.
	MarkBatchJobDone(ctx context.Context, jobID string, result BatchResult) error
}
