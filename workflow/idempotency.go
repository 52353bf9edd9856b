package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/utils"
	"github.com/sirupsen/logrus"
)

// The idempotency gate wraps state-changing commands. It never touches
// domain state itself: it either admits the command, short-circuits with a
// cached result, or rejects with a conflict.

type IdempotencyState string

const (
	IdempotencyStateInFlight IdempotencyState = "in_flight"
	IdempotencyStateDone     IdempotencyState = "done"
)

// IdempotencyRecord is the ephemeral dedup record for one write request.
type IdempotencyRecord struct {
	State              IdempotencyState `json:"state"`
	RequestFingerprint string           `json:"request_fingerprint"`
	ResultStatus       int              `json:"result_status,omitempty"`
	ResultBody         string           `json:"result_body,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// GateStore is the slice of the shared low-latency store the gate needs.
// config's Redis helpers implement it in production; tests use a map fake.
type GateStore interface {
	SetNX(key, value string, ttl time.Duration) (bool, error)
	Get(key string) (string, bool, error)
	Set(key, value string, ttl time.Duration) error
	Del(key string) error
}

type redisGateStore struct{}

func (redisGateStore) SetNX(key, value string, ttl time.Duration) (bool, error) {
	return config.SetRedisValueNX(key, value, ttl)
}
func (redisGateStore) Get(key string) (string, bool, error) {
	return config.GetRedisValue(key)
}
func (redisGateStore) Set(key, value string, ttl time.Duration) error {
	return config.SetRedisValue(key, value, ttl)
}
func (redisGateStore) Del(key string) error {
	return config.RemoveRedisKey(key)
}

type GateOutcome int

const (
	// GateAdmitted: execute the command; the in-flight record is held.
	GateAdmitted GateOutcome = iota
	// GateReplay: do not execute; return the stored result, tagged as replay.
	GateReplay
	// GateDegraded: execute without dedup; the store was unreachable.
	GateDegraded
)

type GateResult struct {
	Outcome      GateOutcome
	ReplayStatus int
	ReplayBody   string
}

type IdempotencyGate struct {
	Store       GateStore
	Logger      *logrus.Logger
	InFlightTTL time.Duration
	DoneTTL     time.Duration
}

func NewIdempotencyGate(logger *logrus.Logger) *IdempotencyGate {
	return &IdempotencyGate{
		Store:       redisGateStore{},
		Logger:      logger,
		InFlightTTL: ttlFromEnv("IDEMPOTENCY_INFLIGHT_TTL_SECONDS", 60),
		DoneTTL:     ttlFromEnv("IDEMPOTENCY_DONE_TTL_SECONDS", 300),
	}
}

func ttlFromEnv(key string, defSeconds int) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return time.Duration(defSeconds) * time.Second
}

// GateKey composes the storage key from the acting principal and the
// normalized request identity.
func GateKey(actorId, method, normalizedPath, token string) string {
	return fmt.Sprintf("Idem:%s:%s:%s:%s", actorId, method, normalizedPath, token)
}

// RequestFingerprint hashes the canonicalized request body so the same
// logical body always fingerprints identically.
func RequestFingerprint(body []byte) (string, error) {
	canonical, err := utils.CanonicalizeRawJSON(body)
	if err != nil {
		// Non-JSON bodies are fingerprinted verbatim.
		return utils.Sha256Hex(string(body)), nil
	}
	return utils.Sha256Hex(canonical), nil
}

// Begin attempts to admit a tokened command. Exactly one of:
// admitted (in-flight record created), replay (done record found), degraded
// (store unreachable, pass through), or a conflict error.
func (g *IdempotencyGate) Begin(key, fingerprint string) (GateResult, error) {
	record := IdempotencyRecord{
		State:              IdempotencyStateInFlight,
		RequestFingerprint: fingerprint,
		CreatedAt:          time.Now().UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return GateResult{}, err
	}

	created, err := g.Store.SetNX(key, string(encoded), g.InFlightTTL)
	if err != nil {
		config.LogDegraded(g.Logger, "idempotency.go", "Begin", "SetNX", err)
		return GateResult{Outcome: GateDegraded}, nil
	}
	if created {
		return GateResult{Outcome: GateAdmitted}, nil
	}

	raw, found, err := g.Store.Get(key)
	if err != nil {
		config.LogDegraded(g.Logger, "idempotency.go", "Begin", "Get", err)
		return GateResult{Outcome: GateDegraded}, nil
	}
	if !found {
		// The record expired between SetNX and Get; take one more shot at
		// claiming it before passing through.
		created, err = g.Store.SetNX(key, string(encoded), g.InFlightTTL)
		if err != nil || !created {
			return GateResult{Outcome: GateDegraded}, nil
		}
		return GateResult{Outcome: GateAdmitted}, nil
	}

	var existing IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		config.LogDegraded(g.Logger, "idempotency.go", "Begin", "Unmarshal", err)
		return GateResult{Outcome: GateDegraded}, nil
	}

	if existing.RequestFingerprint != fingerprint {
		return GateResult{}, utils.NewConflict(utils.ReasonIdempotencyKeyReuse,
			"idempotency token reused with a different request body")
	}
	if existing.State == IdempotencyStateInFlight {
		return GateResult{}, utils.NewConflict(utils.ReasonDuplicateInProgress,
			"duplicate request in progress")
	}
	return GateResult{
		Outcome:      GateReplay,
		ReplayStatus: existing.ResultStatus,
		ReplayBody:   existing.ResultBody,
	}, nil
}

// Complete finalizes the record after the command ran. Success-class results
// become replayable; anything else is deleted so a retry runs fresh.
func (g *IdempotencyGate) Complete(key, fingerprint string, status int, body string) {
	if status >= 200 && status < 300 {
		record := IdempotencyRecord{
			State:              IdempotencyStateDone,
			RequestFingerprint: fingerprint,
			ResultStatus:       status,
			ResultBody:         body,
			CreatedAt:          time.Now().UTC(),
		}
		encoded, err := json.Marshal(record)
		if err == nil {
			err = g.Store.Set(key, string(encoded), g.DoneTTL)
		}
		if err != nil {
			config.LogDegraded(g.Logger, "idempotency.go", "Complete", "Set done", err)
		}
		return
	}
	if err := g.Store.Del(key); err != nil {
		config.LogDegraded(g.Logger, "idempotency.go", "Complete", "Del", err)
	}
}
