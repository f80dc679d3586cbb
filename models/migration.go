package models

import (
	"log"

	"github.com/mmdatafocus/budgets_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Budget{},
		&Account{}, &SubAccount{},
		&Fringe{}, &Markup{}, &Group{},
		&Actual{}, &Contact{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
