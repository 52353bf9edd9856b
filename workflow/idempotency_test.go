package workflow

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abhinavjnu/opencoop/utils"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. The gate's protocol is
// exercised against a map-backed store that honors set-if-absent
// semantics; Redis-specific behavior (TTL expiry, connection loss) is
// simulated through the fake.

type fakeGateStore struct {
	mu     sync.Mutex
	values map[string]string
	broken bool
}

func newFakeGateStore() *fakeGateStore {
	return &fakeGateStore{values: map[string]string{}}
}

func (s *fakeGateStore) SetNX(key, value string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return false, errors.New("store unreachable")
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

func (s *fakeGateStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return "", false, errors.New("store unreachable")
	}
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeGateStore) Set(key, value string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("store unreachable")
	}
	s.values[key] = value
	return nil
}

func (s *fakeGateStore) Del(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errors.New("store unreachable")
	}
	delete(s.values, key)
	return nil
}

func newTestGate(store GateStore) *IdempotencyGate {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &IdempotencyGate{
		Store:       store,
		Logger:      logger,
		InFlightTTL: time.Minute,
		DoneTTL:     5 * time.Minute,
	}
}

func mustFingerprint(t *testing.T, body string) string {
	t.Helper()
	fp, err := RequestFingerprint([]byte(body))
	if err != nil {
		t.Fatal(err)
	}
	return fp
}

func TestGate_AdmitCompleteReplay(t *testing.T) {
	store := newFakeGateStore()
	gate := newTestGate(store)
	key := GateKey("cust-1", "POST", "/orders", "tok-1")
	fp := mustFingerprint(t, `{"subtotal":"25.00"}`)

	res, err := gate.Begin(key, fp)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != GateAdmitted {
		t.Fatalf("first Begin: outcome = %v", res.Outcome)
	}

	gate.Complete(key, fp, 201, `{"id":"o1"}`)

	res, err = gate.Begin(key, fp)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != GateReplay {
		t.Fatalf("second Begin: outcome = %v", res.Outcome)
	}
	if res.ReplayStatus != 201 || res.ReplayBody != `{"id":"o1"}` {
		t.Fatalf("replay payload = %d %q", res.ReplayStatus, res.ReplayBody)
	}
}

func TestGate_DuplicateInProgress(t *testing.T) {
	store := newFakeGateStore()
	gate := newTestGate(store)
	key := GateKey("cust-1", "POST", "/orders", "tok-1")
	fp := mustFingerprint(t, `{"subtotal":"25.00"}`)

	if _, err := gate.Begin(key, fp); err != nil {
		t.Fatal(err)
	}
	_, err := gate.Begin(key, fp)
	ce, ok := utils.AsConflict(err)
	if !ok || ce.Reason != utils.ReasonDuplicateInProgress {
		t.Fatalf("expected duplicate_request_in_progress, got %v", err)
	}
}

func TestGate_FingerprintMismatch(t *testing.T) {
	store := newFakeGateStore()
	gate := newTestGate(store)
	key := GateKey("cust-1", "POST", "/orders", "tok-1")

	if _, err := gate.Begin(key, mustFingerprint(t, `{"subtotal":"25.00"}`)); err != nil {
		t.Fatal(err)
	}
	_, err := gate.Begin(key, mustFingerprint(t, `{"subtotal":"99.00"}`))
	ce, ok := utils.AsConflict(err)
	if !ok || ce.Reason != utils.ReasonIdempotencyKeyReuse {
		t.Fatalf("expected idempotency_key_reuse, got %v", err)
	}
}

func TestGate_FailureDeletesRecord(t *testing.T) {
	store := newFakeGateStore()
	gate := newTestGate(store)
	key := GateKey("cust-1", "POST", "/orders", "tok-1")
	fp := mustFingerprint(t, `{}`)

	if _, err := gate.Begin(key, fp); err != nil {
		t.Fatal(err)
	}
	gate.Complete(key, fp, 500, "internal error")

	// The retry must run fresh, not replay the failure.
	res, err := gate.Begin(key, fp)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != GateAdmitted {
		t.Fatalf("retry after failure: outcome = %v", res.Outcome)
	}
}

func TestGate_DegradesWhenStoreUnreachable(t *testing.T) {
	store := newFakeGateStore()
	store.broken = true
	gate := newTestGate(store)

	res, err := gate.Begin(GateKey("cust-1", "POST", "/orders", "tok-1"), mustFingerprint(t, `{}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != GateDegraded {
		t.Fatalf("outcome = %v", res.Outcome)
	}
}

func TestGate_ExactlyOneAdmittedUnderContention(t *testing.T) {
	store := newFakeGateStore()
	gate := newTestGate(store)
	key := GateKey("cust-1", "POST", "/orders", "tok-1")
	fp := mustFingerprint(t, `{"subtotal":"25.00"}`)

	const callers = 25
	var admitted, conflicted int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := gate.Begin(key, fp)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ce, ok := utils.AsConflict(err); ok && ce.Reason == utils.ReasonDuplicateInProgress {
					conflicted++
				}
				return
			}
			if res.Outcome == GateAdmitted {
				admitted++
			}
		}()
	}
	wg.Wait()

	if admitted != 1 {
		t.Fatalf("admitted = %d, want exactly 1", admitted)
	}
	if conflicted != callers-1 {
		t.Fatalf("conflicted = %d, want %d", conflicted, callers-1)
	}
}

func TestRequestFingerprint_CanonicalBodies(t *testing.T) {
	a := mustFingerprint(t, `{"b":2,"a":1}`)
	b := mustFingerprint(t, `{"a":1,"b":2}`)
	if a != b {
		t.Fatal("fingerprint depends on key order")
	}
	if a == mustFingerprint(t, `{"a":1,"b":3}`) {
		t.Fatal("different bodies must fingerprint differently")
	}
	// Non-JSON bodies fingerprint verbatim rather than erroring.
	if mustFingerprint(t, "not json") == "" {
		t.Fatal("verbatim fingerprint empty")
	}
	// A JSON body with trailing garbage falls back to verbatim hashing and
	// must not collide with the clean body's canonical fingerprint.
	if mustFingerprint(t, `{"a":1}`) == mustFingerprint(t, `{"a":1}garbage`) {
		t.Fatal("trailing garbage collapsed into the clean body's fingerprint")
	}
}
