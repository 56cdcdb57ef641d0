package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"predict_go/internal/domain"
	"predict_go/internal/infra"

	"gorm.io/gorm"
)

// Synapse is the durable FIFO queue with one lane per domain.Lane.
// Push returns only after the entry is committed; Pop removes and returns the
// oldest entry in a single transaction, so a returned item is never poppable again.
type Synapse struct {
	db      *gorm.DB
	metrics *infra.Metrics
	lanes   map[domain.Lane]*sync.Mutex
}

// NewSynapse creates the queue over an opened Storage.
func NewSynapse(s *Storage, metrics *infra.Metrics) *Synapse {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Synapse{
		db:      s.db,
		metrics: metrics,
		lanes: map[domain.Lane]*sync.Mutex{
			domain.LaneOpportunities: {},
			domain.LaneExecutions:    {},
		},
	}
}

func (q *Synapse) lock(lane domain.Lane) (*sync.Mutex, error) {
	mu, ok := q.lanes[lane]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownLane, lane)
	}
	return mu, nil
}

// Push appends item to lane and commits before returning.
func (q *Synapse) Push(ctx context.Context, lane domain.Lane, item any) error {
	if _, err := q.lock(lane); err != nil {
		return err
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", lane, err)
	}

	entry := domain.QueueEntry{Lane: string(lane), Payload: payload}
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&entry).Error
	})
	q.metrics.RecordQueue("push", err)
	if err != nil {
		return domain.NewDurabilityError("push", err)
	}
	return nil
}

// Pop removes the oldest entry of lane and decodes it into out.
// It returns false with a nil error when the lane is empty.
// An entry that cannot be decoded into out is moved to the lane's dead
// letters in the same transaction and reported as domain.ErrUndecodable,
// so the next Pop sees the entry behind it.
func (q *Synapse) Pop(ctx context.Context, lane domain.Lane, out any) (bool, error) {
	mu, err := q.lock(lane)
	if err != nil {
		return false, err
	}
	mu.Lock()
	defer mu.Unlock()

	var (
		found     bool
		decodeErr error
	)
	err = q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry domain.QueueEntry
		res := tx.Where("lane = ?", string(lane)).Order("id asc").Limit(1).Find(&entry)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if err := json.Unmarshal(entry.Payload, out); err != nil {
			decodeErr = fmt.Errorf("%w: %s entry %d: %v", domain.ErrUndecodable, lane, entry.ID, err)
			return tx.Model(&domain.QueueEntry{}).Where("id = ?", entry.ID).Update("lane", lane.DeadLetter()).Error
		}

		del := tx.Delete(&domain.QueueEntry{}, entry.ID)
		if del.Error != nil {
			return del.Error
		}
		if del.RowsAffected != 1 {
			return fmt.Errorf("entry %d already removed", entry.ID)
		}
		found = true
		return nil
	})
	q.metrics.RecordQueue("pop", err)
	if err != nil {
		return false, domain.NewDurabilityError("pop", err)
	}
	if decodeErr != nil {
		return false, decodeErr
	}
	return found, nil
}

// Size returns the number of entries in lane.
func (q *Synapse) Size(ctx context.Context, lane domain.Lane) (int64, error) {
	if _, err := q.lock(lane); err != nil {
		return 0, err
	}
	var n int64
	if err := q.db.WithContext(ctx).Model(&domain.QueueEntry{}).Where("lane = ?", string(lane)).Count(&n).Error; err != nil {
		return 0, domain.NewDurabilityError("size", err)
	}
	return n, nil
}

// DeadLetters returns the number of undecodable entries parked from lane.
func (q *Synapse) DeadLetters(ctx context.Context, lane domain.Lane) (int64, error) {
	if _, err := q.lock(lane); err != nil {
		return 0, err
	}
	var n int64
	if err := q.db.WithContext(ctx).Model(&domain.QueueEntry{}).Where("lane = ?", lane.DeadLetter()).Count(&n).Error; err != nil {
		return 0, domain.NewDurabilityError("dead_letters", err)
	}
	return n, nil
}
