package workflow

import (
	"encoding/json"
	"math"
	"time"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/abhinavjnu/opencoop/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// The job board lives entirely in the shared low-latency store as three
// logical maps per order, each with its own TTL policy:
//   - JobBoard:Open               time-ordered visible set (posted-at score)
//   - JobBoard:Detail:{orderId}   entry payload
//   - JobBoard:Claim:{orderId}    claim marker (workerId), the single
//     first-successful-claim-wins resolution point

// JobBoardEntry is a unit of claimable work, visible to all eligible workers
// simultaneously until the instant a claim succeeds.
type JobBoardEntry struct {
	OrderId       string          `json:"order_id"`
	RestaurantLat float64         `json:"restaurant_lat"`
	RestaurantLng float64         `json:"restaurant_lng"`
	DropoffLat    float64         `json:"dropoff_lat"`
	DropoffLng    float64         `json:"dropoff_lng"`
	DistanceKm    float64         `json:"distance_km"`
	DeliveryFee   decimal.Decimal `json:"delivery_fee"`
	Gratuity      decimal.Decimal `json:"gratuity"`
	PostedAt      time.Time       `json:"posted_at"`
}

// BoardStore is the slice of the shared store the registry needs.
type BoardStore interface {
	SetNX(key, value string, ttl time.Duration) (bool, error)
	Get(key string) (string, bool, error)
	Set(key, value string, ttl time.Duration) error
	Del(keys ...string) error
	ZAdd(key, member string, score float64) error
	ZMembers(key string) ([]string, error)
	ZRem(key, member string) error
}

type redisBoardStore struct{}

func (redisBoardStore) SetNX(key, value string, ttl time.Duration) (bool, error) {
	return config.SetRedisValueNX(key, value, ttl)
}
func (redisBoardStore) Get(key string) (string, bool, error) {
	return config.GetRedisValue(key)
}
func (redisBoardStore) Set(key, value string, ttl time.Duration) error {
	return config.SetRedisValue(key, value, ttl)
}
func (redisBoardStore) Del(keys ...string) error {
	return config.RemoveRedisKey(keys...)
}
func (redisBoardStore) ZAdd(key, member string, score float64) error {
	return config.AddRedisSortedSet(key, member, score)
}
func (redisBoardStore) ZMembers(key string) ([]string, error) {
	return config.GetRedisSortedSetMembers(key)
}
func (redisBoardStore) ZRem(key, member string) error {
	return config.RemoveRedisSortedSetMember(key, member)
}

const boardOpenKey = "JobBoard:Open"

func boardDetailKey(orderId string) string { return "JobBoard:Detail:" + orderId }
func boardClaimKey(orderId string) string  { return "JobBoard:Claim:" + orderId }

type JobBoard struct {
	Store    BoardStore
	Logger   *logrus.Logger
	EntryTTL time.Duration
	ClaimTTL time.Duration
}

func NewJobBoard(logger *logrus.Logger) *JobBoard {
	return &JobBoard{
		Store:    redisBoardStore{},
		Logger:   logger,
		EntryTTL: ttlFromEnv("JOB_BOARD_ENTRY_TTL_SECONDS", 3600),
		ClaimTTL: ttlFromEnv("JOB_CLAIM_TTL_SECONDS", 900),
	}
}

// EntryForOrder builds a board entry from the operational order row.
func EntryForOrder(order *models.Order) JobBoardEntry {
	return JobBoardEntry{
		OrderId:       order.ID,
		RestaurantLat: order.RestaurantLat,
		RestaurantLng: order.RestaurantLng,
		DropoffLat:    order.DropoffLat,
		DropoffLng:    order.DropoffLng,
		DistanceKm:    HaversineKm(order.RestaurantLat, order.RestaurantLng, order.DropoffLat, order.DropoffLng),
		DeliveryFee:   order.DeliveryFee,
		Gratuity:      order.Gratuity,
		PostedAt:      time.Now().UTC(),
	}
}

// Post adds the entry to the visible set and stores its detail.
func (b *JobBoard) Post(entry JobBoardEntry) error {
	encoded, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := b.Store.Set(boardDetailKey(entry.OrderId), string(encoded), b.EntryTTL); err != nil {
		return err
	}
	return b.Store.ZAdd(boardOpenKey, entry.OrderId, float64(entry.PostedAt.Unix()))
}

// List snapshots the currently visible, unclaimed entries in posted order.
// Members whose detail expired are pruned from the visible set as a side
// effect of listing.
func (b *JobBoard) List() ([]JobBoardEntry, error) {
	members, err := b.Store.ZMembers(boardOpenKey)
	if err != nil {
		return nil, err
	}
	entries := make([]JobBoardEntry, 0, len(members))
	for _, orderId := range members {
		raw, found, err := b.Store.Get(boardDetailKey(orderId))
		if err != nil {
			return nil, err
		}
		if !found {
			_ = b.Store.ZRem(boardOpenKey, orderId)
			continue
		}
		var entry JobBoardEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			config.LogError(b.Logger, "jobBoard.go", "List", "Unmarshal detail", orderId, err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Claim attempts the atomic set-if-absent of the per-order claim marker.
// Exactly one worker ever wins within the marker's validity window; a retry
// by the winner is idempotently true; everyone else gets false with no state
// change. The first success removes the entry from visibility.
func (b *JobBoard) Claim(orderId, workerId string) (bool, error) {
	created, err := b.Store.SetNX(boardClaimKey(orderId), workerId, b.ClaimTTL)
	if err != nil {
		return false, err
	}
	if !created {
		holder, found, err := b.Store.Get(boardClaimKey(orderId))
		if err != nil {
			return false, err
		}
		return found && holder == workerId, nil
	}
	if err := b.Store.ZRem(boardOpenKey, orderId); err != nil {
		return true, err
	}
	if err := b.Store.Del(boardDetailKey(orderId)); err != nil {
		return true, err
	}
	return true, nil
}

// Release drops the claim marker so the order can be reposted (worker gave
// the job back, or the claiming flow failed after the marker was taken).
func (b *JobBoard) Release(orderId string) error {
	return b.Store.Del(boardClaimKey(orderId))
}

// Remove withdraws the order from the board entirely (cancellation).
func (b *JobBoard) Remove(orderId string) error {
	if err := b.Store.ZRem(boardOpenKey, orderId); err != nil {
		return err
	}
	return b.Store.Del(boardDetailKey(orderId), boardClaimKey(orderId))
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance between two coordinates.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
