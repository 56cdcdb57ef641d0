package domain

import (
	"time"
)

// Lane names one of the fixed durable queues.
type Lane string

const (
	LaneOpportunities Lane = "opportunities"
	LaneExecutions    Lane = "executions"
)

// Valid reports whether l is a known lane.
func (l Lane) Valid() bool {
	return l == LaneOpportunities || l == LaneExecutions
}

// DeadLetter is where entries of l that cannot be decoded are parked.
func (l Lane) DeadLetter() string {
	return "dead_letter:" + string(l)
}

// QueueEntry is one persisted item of a durable queue lane.
// FIFO position is the autoincrement ID.
type QueueEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Lane      string    `gorm:"index:idx_lane_id,priority:1;not null"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// AppConfig represents persisted runtime settings (Key-Value), e.g. the vault balance.
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
