package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Stock history operation types.
const (
	StockOpRestock    = "restock"
	StockOpUsage      = "usage"
	StockOpAdjustment = "adjustment"
	StockOpWaste      = "waste"
	StockOpRequest    = "request"
)

func ValidStockOp(op string) bool {
	switch op {
	case StockOpRestock, StockOpUsage, StockOpAdjustment, StockOpWaste, StockOpRequest:
		return true
	}
	return false
}

type IngredientStock struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	IngredientID    int32           `gorm:"uniqueIndex;not null"`
	CurrentQuantity decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	MinQuantity     decimal.Decimal `gorm:"type:numeric(10,2);not null;default:10"`
	Unit            string          `gorm:"size:20;not null"`
	LastRestocked   time.Time       `gorm:"autoUpdateTime"`
	CreatedAt       time.Time

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID"`
}

func (s *IngredientStock) IsLow() bool {
	return s.CurrentQuantity.LessThanOrEqual(s.MinQuantity)
}

func (s *IngredientStock) IsOutOfStock() bool {
	return s.CurrentQuantity.LessThanOrEqual(decimal.Zero)
}

// StockHistory is the append-only ledger of stock changes. Rows are never
// updated or deleted; quantity_after must equal quantity_before + change.
type StockHistory struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	IngredientID   int32           `gorm:"not null;index"`
	OperationType  string          `gorm:"size:20;not null"`
	QuantityChange decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	QuantityBefore decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	QuantityAfter  decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	TotalCost      decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	PerformedBy    *int64
	Notes          string `gorm:"type:text"`
	CreatedAt      time.Time

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID"`
}

type IngredientCost struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	IngredientID int32           `gorm:"uniqueIndex;not null"`
	CostPerUnit  decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	LastUpdated  time.Time       `gorm:"autoUpdateTime"`

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID"`
}

func (c *IngredientCost) CalculateTotalCost(quantity decimal.Decimal) decimal.Decimal {
	return c.CostPerUnit.Mul(quantity)
}

// PreparedDish tracks ready-to-serve units of a dish, consumable without
// touching raw ingredient stock.
type PreparedDish struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	DishID      int32 `gorm:"not null;index"`
	Quantity    int32 `gorm:"not null;default:0"`
	MaxQuantity int32 `gorm:"not null;default:20"`
	PreparedBy  *int64
	PreparedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time

	Dish *Dish `gorm:"foreignKey:DishID"`
}

func (p *PreparedDish) IsAvailable() bool {
	return p.Quantity > 0
}

func (p *PreparedDish) NeedsPreparation() bool {
	return p.Quantity*2 < p.MaxQuantity
}
