package config

import (
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// GovernedParams is a read-only snapshot of the rates the cooperative's
// governance subsystem controls. Rates are fractions of the delivery fee
// (0.05 == 5%). The snapshot is replaced wholesale by SetGovernedParams;
// readers always see a consistent pair.
type GovernedParams struct {
	PoolRate     decimal.Decimal
	InfraFeeRate decimal.Decimal
}

var (
	paramsMu sync.RWMutex
	params   GovernedParams
)

func init() {
	params = GovernedParams{
		PoolRate:     decimalFromEnv("POOL_CONTRIBUTION_RATE", "0.05"),
		InfraFeeRate: decimalFromEnv("INFRA_FEE_RATE", "0.03"),
	}
}

func GetGovernedParams() GovernedParams {
	paramsMu.RLock()
	defer paramsMu.RUnlock()
	return params
}

// SetGovernedParams is called by the governance subsystem after a parameter
// vote takes effect. In-flight settlements keep the snapshot they read.
func SetGovernedParams(p GovernedParams) {
	paramsMu.Lock()
	defer paramsMu.Unlock()
	params = p
}

func decimalFromEnv(key string, def string) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		d, _ = decimal.NewFromString(def)
	}
	return d
}
