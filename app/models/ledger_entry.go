package models

import "time"

const (
	LedgerTypePurchase = "purchase"
	LedgerTypeUsage    = "usage"
	LedgerTypeRefund   = "refund"
)

const (
	PaymentProviderStripe = "stripe"
	PaymentProviderPayPal = "paypal"
)

// LedgerEntry is the immutable transaction log behind every balance change.
// Rows are only ever inserted. The unique (payment_provider,
// external_transaction_id) index doubles as the idempotency token for
// provider-driven credits: a second insert for the same external transaction
// is rejected by the database, not by application logic.
type LedgerEntry struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	Reference             string    `gorm:"type:varchar(36);not null;index" json:"reference"`
	UserID                uint      `gorm:"not null;index" json:"user_id"`
	Type                  string    `gorm:"type:varchar(20);not null;index" json:"type"`
	Amount                int64     `gorm:"not null" json:"amount"`
	BalanceAfter          int64     `gorm:"not null" json:"balance_after"`
	Description           string    `gorm:"type:varchar(255)" json:"description"`
	PaymentProvider       *string   `gorm:"type:varchar(20);index:ux_ledger_entries_provider_tx,unique,priority:1" json:"payment_provider,omitempty"`
	ExternalTransactionID *string   `gorm:"type:varchar(191);index:ux_ledger_entries_provider_tx,unique,priority:2" json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
