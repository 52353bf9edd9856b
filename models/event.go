package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/abhinavjnu/opencoop/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Event is one immutable fact in the append-only ledger. Rows are never
// updated or deleted; the unique index on (aggregate_id, aggregate_type,
// version) is the only serialization point for concurrent appends.
type Event struct {
	ID            string          `gorm:"primary_key;size:36" json:"id"`
	Type          string          `gorm:"size:100;not null;index" json:"type"`
	AggregateId   string          `gorm:"size:64;not null;index:uniq_aggregate_version,unique,priority:1" json:"aggregate_id"`
	AggregateType string          `gorm:"size:32;not null;index:uniq_aggregate_version,unique,priority:2" json:"aggregate_type"`
	Version       int             `gorm:"not null;index:uniq_aggregate_version,unique,priority:3" json:"version"`
	OccurredAt    time.Time       `gorm:"type:datetime(6);not null" json:"occurred_at"`
	ActorId       string          `gorm:"size:64;not null" json:"actor_id"`
	ActorRole     ActorRole       `gorm:"size:20;not null" json:"actor_role"`
	Data          json.RawMessage `gorm:"type:json" json:"data"`
	PreviousHash  *string         `gorm:"size:64" json:"previous_hash"`
	Hash          string          `gorm:"size:64;not null" json:"hash"`
	CorrelationId string          `gorm:"size:64" json:"correlation_id"`
	CommandToken  string          `gorm:"size:128" json:"command_token,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// AppendEventCommand describes one fact to chain onto an aggregate.
type AppendEventCommand struct {
	Type          string
	AggregateId   string
	AggregateType string
	Actor         utils.Actor
	Data          json.RawMessage
}

// ChainReport is the result of verifying one aggregate's hash chain.
// A break is data, not an error: verification is diagnostic and never
// repairs the chain.
type ChainReport struct {
	Valid           bool `json:"valid"`
	BrokenAtVersion *int `json:"broken_at_version,omitempty"`
}

const appendMaxAttempts = 3

// ComputeEventHash digests the canonical encoding of the fields that define
// an event's identity. previousHash is nil for version 1.
func ComputeEventHash(eventType string, data json.RawMessage, previousHash *string, occurredAt time.Time) (string, error) {
	var decoded any
	if len(data) > 0 {
		canonical, err := utils.CanonicalizeRawJSON(data)
		if err != nil {
			return "", err
		}
		decoded = json.RawMessage(canonical)
	}
	var prev any
	if previousHash != nil {
		prev = *previousHash
	}
	payload := map[string]any{
		"type":         eventType,
		"data":         decoded,
		"previousHash": prev,
		"occurredAt":   occurredAt.UTC().Format(time.RFC3339Nano),
	}
	encoded, err := utils.CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	return utils.Sha256Hex(encoded), nil
}

// AppendEvent reads the aggregate's current head, chains a new event onto it
// and inserts. A duplicate-key rejection means a concurrent writer took the
// version; the whole read-compute-insert sequence is retried, bounded.
// Exhausting the bound returns utils.ErrEventVersionConflict, which the
// enclosing command must treat as fatal.
//
// The retry only makes progress for callers appending outside a transaction
// (EmitSettlementEvents): under REPEATABLE READ a transactional re-read sees
// the transaction's own snapshot, never the concurrent winner's insert, so
// every in-transaction retry recomputes the same taken version. Transactional
// callers are serialized by the FOR UPDATE lock on the order row instead, and
// exhaustion still fails loudly if that assumption is ever violated.
func AppendEvent(ctx context.Context, db *gorm.DB, cmd AppendEventCommand) (*Event, error) {
	for attempt := 0; attempt < appendMaxAttempts; attempt++ {
		var head Event
		version := 1
		var previousHash *string
		err := db.WithContext(ctx).
			Where("aggregate_id = ? AND aggregate_type = ?", cmd.AggregateId, cmd.AggregateType).
			Order("version DESC").
			First(&head).Error
		if err == nil {
			version = head.Version + 1
			h := head.Hash
			previousHash = &h
		} else if err != gorm.ErrRecordNotFound {
			return nil, err
		}

		// Truncated to the column precision (datetime(6)) so the hash
		// recomputed from a read-back row matches.
		occurredAt := time.Now().UTC().Truncate(time.Microsecond)
		hash, err := ComputeEventHash(cmd.Type, cmd.Data, previousHash, occurredAt)
		if err != nil {
			return nil, err
		}

		// Correlation id and the client's idempotency token travel next to
		// the fact, outside the hashed identity, so one command's events can
		// be joined from logs or from the client's own retry key.
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		commandToken, _ := utils.GetIdempotencyTokenFromContext(ctx)
		event := Event{
			ID:            uuid.Must(uuid.NewV7()).String(),
			Type:          cmd.Type,
			AggregateId:   cmd.AggregateId,
			AggregateType: cmd.AggregateType,
			Version:       version,
			OccurredAt:    occurredAt,
			ActorId:       cmd.Actor.ID,
			ActorRole:     ActorRole(cmd.Actor.Role),
			Data:          cmd.Data,
			PreviousHash:  previousHash,
			Hash:          hash,
			CorrelationId: correlationId,
			CommandToken:  commandToken,
		}
		err = db.WithContext(ctx).Create(&event).Error
		if err == nil {
			return &event, nil
		}
		if utils.IsDuplicateKeyErr(err) {
			continue
		}
		return nil, err
	}
	return nil, utils.ErrEventVersionConflict
}

// ListEventsByAggregate returns the aggregate's events ascending by version.
// The read is idempotent and restartable.
func ListEventsByAggregate(ctx context.Context, db *gorm.DB, aggregateId, aggregateType string) ([]Event, error) {
	var events []Event
	err := db.WithContext(ctx).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateId, aggregateType).
		Order("version ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// VerifyChain walks an ordered event sequence and reports the first version
// whose linkage or recomputed hash does not hold. Pure: callers own the read.
func VerifyChain(events []Event) ChainReport {
	for i := range events {
		ev := events[i]
		if ev.Version != i+1 {
			v := ev.Version
			return ChainReport{Valid: false, BrokenAtVersion: &v}
		}
		if i == 0 {
			if ev.PreviousHash != nil {
				v := ev.Version
				return ChainReport{Valid: false, BrokenAtVersion: &v}
			}
		} else {
			if ev.PreviousHash == nil || *ev.PreviousHash != events[i-1].Hash {
				v := ev.Version
				return ChainReport{Valid: false, BrokenAtVersion: &v}
			}
		}
		recomputed, err := ComputeEventHash(ev.Type, ev.Data, ev.PreviousHash, ev.OccurredAt)
		if err != nil || recomputed != ev.Hash {
			v := ev.Version
			return ChainReport{Valid: false, BrokenAtVersion: &v}
		}
	}
	return ChainReport{Valid: true}
}

// VerifyAggregateChain loads and verifies one aggregate's chain.
func VerifyAggregateChain(ctx context.Context, db *gorm.DB, aggregateId, aggregateType string) (ChainReport, error) {
	events, err := ListEventsByAggregate(ctx, db, aggregateId, aggregateType)
	if err != nil {
		return ChainReport{}, err
	}
	return VerifyChain(events), nil
}
