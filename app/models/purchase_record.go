package models

import "time"

// PurchaseRecord marks a prompt as bought by a user. The unique
// (prompt_id, buyer_id) index makes the insert idempotent: of two
// concurrent purchases for the same pair exactly one row wins.
type PurchaseRecord struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	PromptID              uint      `gorm:"not null;index:ux_purchase_records_prompt_buyer,unique,priority:1" json:"prompt_id"`
	BuyerID               uint      `gorm:"not null;index:ux_purchase_records_prompt_buyer,unique,priority:2;index" json:"buyer_id"`
	SellerID              uint      `gorm:"not null;index" json:"seller_id"`
	PurchasePriceCoins    int64     `gorm:"not null" json:"purchase_price_coins"`
	PaymentProvider       string    `gorm:"type:varchar(20);not null;default:'promptcoin'" json:"payment_provider"`
	ExternalTransactionID *string   `gorm:"type:varchar(191);default:null" json:"external_transaction_id,omitempty"`
	PurchasedAt           time.Time `gorm:"autoCreateTime" json:"purchased_at"`
}
