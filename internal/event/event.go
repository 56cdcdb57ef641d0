package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Topics used between agents.
const (
	TopicOpportunity = "senses.opportunity"
	TopicVerdict     = "brain.verdict"
	TopicRejected    = "brain.rejected"
	TopicSettled     = "executor.settled"
	TopicAgentLog    = "agent.log"
	TopicEmergency   = "system.emergency"
	TopicKill        = "system.kill"
)

// ArchivalTopics are the topics the historian records.
var ArchivalTopics = []string{
	TopicOpportunity,
	TopicVerdict,
	TopicRejected,
	TopicSettled,
	TopicAgentLog,
	TopicEmergency,
	TopicKill,
}

// Event is an immutable bus record. Handlers must not mutate Payload.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Sender    string         `json:"sender"`
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", e.Topic, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Topic, err)
	}
	return nil
}

// String returns the payload value at key if it is a string.
func (e Event) String(key string) string {
	s, _ := e.Payload[key].(string)
	return s
}

// Payload converts a struct (or map) into a bus payload through its JSON form.
func Payload(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return maps.Clone(m), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("payload must encode as a JSON object: %w", err)
	}
	return m, nil
}
