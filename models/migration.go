package models

import (
	"log"

	"github.com/sunbirdmfi/microfin_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Metric{}, &FinancialSnapshot{}, &BranchRegistry{},
		&Group{}, &Client{},
		&Loan{}, &LoanCollection{}, &Distribution{},
		&SavingsAccount{}, &SavingsTransaction{},
		&Expense{}, &BranchData{}, &BankDeposit{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
