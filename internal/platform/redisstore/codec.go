package redisstore

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/jobrunr-app/taskforge/internal/domain"
)

// encodeTask serializes a task record for storage using the standard
// library; decodeTask uses sonic on the hot read path (subscription
// snapshots re-decode the whole record set on every change).
func encodeTask(t *domain.Task) ([]byte, error) {
	return json.Marshal(t)
}

func decodeTask(data []byte) (*domain.Task, error) {
	var t domain.Task
	if err := sonic.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
