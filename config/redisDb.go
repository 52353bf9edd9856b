package config

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)
var ctx = context.Background()

// ErrRedisUnavailable is returned by the strict helpers when no Redis client
// is connected. Callers that can degrade (the idempotency gate) check for it;
// everything else treats it as an ordinary error.
var ErrRedisUnavailable = errors.New("redis unavailable")

func GetRedisLock() *redislock.Client {
	return locker
}

// GetRedisValue is strict: Redis being down is an error, a missing key is not.
func GetRedisValue(key string) (string, bool, error) {
	if rdb == nil {
		return "", false, ErrRedisUnavailable
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func SetRedisValue(key string, value string, exp time.Duration) error {
	if rdb == nil {
		return ErrRedisUnavailable
	}
	return rdb.Set(ctx, key, value, exp).Err()
}

// SetRedisValueNX performs an atomic set-if-absent with expiry. It returns
// true only when this call created the key. This is the single contended
// primitive behind both the idempotency gate and the job claim marker.
func SetRedisValueNX(key string, value string, exp time.Duration) (bool, error) {
	if rdb == nil {
		return false, ErrRedisUnavailable
	}
	return rdb.SetNX(ctx, key, value, exp).Result()
}

func RemoveRedisKey(keys ...string) error {
	if rdb == nil {
		return ErrRedisUnavailable
	}
	_, err := rdb.Del(ctx, keys...).Result()
	return err
}

/* time-ordered visible sets (job board) */

func AddRedisSortedSet(setKey string, member string, score float64) error {
	if rdb == nil {
		return ErrRedisUnavailable
	}
	return rdb.ZAdd(ctx, setKey, redis.Z{Score: score, Member: member}).Err()
}

func GetRedisSortedSetMembers(setKey string) ([]string, error) {
	if rdb == nil {
		return nil, ErrRedisUnavailable
	}
	return rdb.ZRange(ctx, setKey, 0, -1).Result()
}

func RemoveRedisSortedSetMember(setKey string, member string) error {
	if rdb == nil {
		return ErrRedisUnavailable
	}
	return rdb.ZRem(ctx, setKey, member).Err()
}

func init() {
	// Load env from .env
	godotenv.Load()
	// IMPORTANT (Cloud Run):
	// Do NOT block startup in init() waiting for Redis.
	// Cloud Run requires the container to start listening on $PORT quickly.
}

// ConnectRedisWithRetry connects and sets the global Redis client + lock client.
// Call this from main() AFTER the HTTP server is listening.
func ConnectRedisWithRetry() {
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
		log.Printf("REDIS_ADDRESS not set; defaulting to %s", redisAddr)
	}

	var attempt int
	for {
		attempt++
		rdb = redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: "",
			DB:       0, // use default DB
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err == nil {
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return
		} else {
			sleep := time.Second * time.Duration(1<<minInt(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
			time.Sleep(sleep)
		}
	}
}
