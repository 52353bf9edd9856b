package workflow

import (
	"testing"

	"github.com/abhinavjnu/opencoop/config"
	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. The split arithmetic is
// pure; Settle's transactional behavior needs a real MySQL and belongs in
// integration coverage.

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testParams(pool, infra string) config.GovernedParams {
	return config.GovernedParams{
		PoolRate:     dec(pool),
		InfraFeeRate: dec(infra),
	}
}

func TestComputeSettlementSplit_KnownValues(t *testing.T) {
	// Amounts in minor units. Fee 450: pool cut floor(450*0.05)=22,
	// infra cut floor(450*0.03)=13, worker keeps the remainder 415.
	split := ComputeSettlementSplit(dec("2500"), dec("450"), dec("200"), testParams("0.05", "0.03"))

	if !split.PoolContribution.Equal(dec("22")) {
		t.Fatalf("pool = %s", split.PoolContribution)
	}
	if !split.InfraFee.Equal(dec("13")) {
		t.Fatalf("infra = %s", split.InfraFee)
	}
	if !split.WorkerDeliveryPay.Equal(dec("415")) {
		t.Fatalf("worker delivery pay = %s", split.WorkerDeliveryPay)
	}
	if !split.WorkerPayout.Equal(dec("615")) {
		t.Fatalf("worker payout = %s", split.WorkerPayout)
	}
	if !split.RestaurantPayout.Equal(dec("2500")) {
		t.Fatalf("restaurant payout = %s", split.RestaurantPayout)
	}
}

func TestComputeSettlementSplit_ConservesDeliveryFee(t *testing.T) {
	fees := []string{"0", "1", "99", "100", "450", "999", "1000", "12345", "99999"}
	rates := []struct{ pool, infra string }{
		{"0.05", "0.03"},
		{"0.10", "0.00"},
		{"0.00", "0.00"},
		{"0.333", "0.333"},
		{"0.01", "0.07"},
	}
	for _, fee := range fees {
		for _, r := range rates {
			split := ComputeSettlementSplit(dec("1000"), dec(fee), dec("0"), testParams(r.pool, r.infra))
			sum := split.PoolContribution.Add(split.InfraFee).Add(split.WorkerDeliveryPay)
			if !sum.Equal(dec(fee)) {
				t.Fatalf("fee=%s rates=%s/%s: parts sum to %s", fee, r.pool, r.infra, sum)
			}
			if split.PoolContribution.IsNegative() || split.InfraFee.IsNegative() || split.WorkerDeliveryPay.IsNegative() {
				t.Fatalf("fee=%s rates=%s/%s: negative part in %+v", fee, r.pool, r.infra, split)
			}
		}
	}
}

func TestComputeSettlementSplit_FlooredCutsNeverRoundUp(t *testing.T) {
	// floor(450*0.333)=149, not 150.
	split := ComputeSettlementSplit(dec("0"), dec("450"), dec("0"), testParams("0.333", "0.00"))
	if !split.PoolContribution.Equal(dec("149")) {
		t.Fatalf("pool = %s", split.PoolContribution)
	}
}

func TestComputeSettlementSplit_GratuityGoesToWorkerOnly(t *testing.T) {
	withTip := ComputeSettlementSplit(dec("2500"), dec("450"), dec("300"), testParams("0.05", "0.03"))
	noTip := ComputeSettlementSplit(dec("2500"), dec("450"), dec("0"), testParams("0.05", "0.03"))

	if !withTip.WorkerPayout.Sub(noTip.WorkerPayout).Equal(dec("300")) {
		t.Fatal("gratuity did not pass through to the worker untouched")
	}
	if !withTip.PoolContribution.Equal(noTip.PoolContribution) ||
		!withTip.InfraFee.Equal(noTip.InfraFee) ||
		!withTip.RestaurantPayout.Equal(noTip.RestaurantPayout) {
		t.Fatal("gratuity leaked into a non-worker part")
	}
}
