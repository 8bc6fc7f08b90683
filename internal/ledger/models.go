package ledger

import "gorm.io/gorm"

// Account holds a party's token balance. The balance is kept non-negative by
// Debit; there is no overdraft.
type Account struct {
	gorm.Model `json:"-"`
	PartyID    string `gorm:"uniqueIndex" json:"party_id"`
	Balance    int64  `json:"balance"`
}
