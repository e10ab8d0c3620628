package queue

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/psdigitalweb/wb-automation-sub001/pkg/enums"
)

// RunEnvelope is the wire payload handed to the worker pool for one queued run.
type RunEnvelope struct {
	RunID       uuid.UUID         `json:"runId"`
	TenantID    uuid.UUID         `json:"tenantId"`
	Marketplace enums.Marketplace `json:"marketplace"`
	JobCode     string            `json:"jobCode"`
}

// Validate checks the envelope carries everything the executor needs.
func (e RunEnvelope) Validate() error {
	if e.RunID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}
	if e.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id is required")
	}
	if !e.Marketplace.IsValid() {
		return fmt.Errorf("invalid marketplace %q", e.Marketplace)
	}
	if e.JobCode == "" {
		return fmt.Errorf("job code is required")
	}
	return nil
}

// Encode serializes the envelope for transport.
func (e RunEnvelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeRunEnvelope parses and validates a transported envelope.
func DecodeRunEnvelope(data []byte) (RunEnvelope, error) {
	var envelope RunEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return RunEnvelope{}, fmt.Errorf("decoding run envelope: %w", err)
	}
	if err := envelope.Validate(); err != nil {
		return RunEnvelope{}, err
	}
	return envelope, nil
}
