package models

import "time"

// SellerRevenue aggregates prompt sale proceeds per seller. Updated by an
// upsert whose increments run in the database, one row per seller.
type SellerRevenue struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SellerID        uint      `gorm:"not null;uniqueIndex" json:"seller_id"`
	SalesCount      int64     `gorm:"not null;default:0" json:"sales_count"`
	TotalSalesCoins int64     `gorm:"not null;default:0" json:"total_sales_coins"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
