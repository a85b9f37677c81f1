package mq

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

// Payload в конверте после Unmarshal — map[string]any; ParsePayload
// должен восстановить типизированный payload.
func TestParsePayload_FromEnvelope(t *testing.T) {
	workerID := uuid.New()
	body, err := json.Marshal(&Message{
		ID:   uuid.New().String(),
		Type: MessageTypeTaskResult,
		Payload: TaskResultPayload{
			CorrelationID: "intake-42-transcription",
			WorkerID:      workerID,
			Status:        "COMPLETED",
			Result:        map[string]any{"duration_ms": 1500.0},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		t.Fatal(err)
	}

	payload, err := ParsePayload[TaskResultPayload](&msg)
	if err != nil {
		t.Fatal(err)
	}
	if payload.CorrelationID != "intake-42-transcription" {
		t.Errorf("unexpected correlation id %q", payload.CorrelationID)
	}
	if payload.WorkerID != workerID {
		t.Error("worker id should survive the round trip")
	}
	if payload.Status != "COMPLETED" {
		t.Errorf("unexpected status %q", payload.Status)
	}
	if payload.Result["duration_ms"] != 1500.0 {
		t.Errorf("result payload lost, got %v", payload.Result)
	}
}
