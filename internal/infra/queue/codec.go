package queue

import (
	"encoding/json"
	"fmt"

	"news-aggregator/internal/domain"
)

func encodeJob(job domain.BatchJob) ([]byte, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (domain.BatchJob, error) {
	var job domain.BatchJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.BatchJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
