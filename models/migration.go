package models

import (
	"log"

	"github.com/abhinavjnu/opencoop/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Event{},
		&Order{},
		&EscrowRecord{},
		&PoolState{}, &PoolLedgerEntry{},
		&WorkerDailyEarning{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
