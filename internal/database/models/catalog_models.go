package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID          int32  `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:100;not null"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Dishes []Dish `gorm:"foreignKey:CategoryID"`
}

type Ingredient struct {
	ID        int32  `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:100;uniqueIndex;not null"`
	Unit      string `gorm:"size:20;not null"` // g, ml, pcs
	CreatedAt time.Time
	UpdatedAt time.Time

	Stock *IngredientStock `gorm:"foreignKey:IngredientID"`
	Cost  *IngredientCost  `gorm:"foreignKey:IngredientID"`
}

type Dish struct {
	ID          int32           `gorm:"primaryKey;autoIncrement"`
	Name        string          `gorm:"size:200;not null"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	CategoryID  int32           `gorm:"not null;index"`
	IsAvailable bool            `gorm:"not null;default:true"`
	CreatedBy   *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Category    *Category        `gorm:"foreignKey:CategoryID"`
	Ingredients []DishIngredient `gorm:"foreignKey:DishID"`
}

// DishIngredient is one recipe line: how much of an ingredient one
// serving of the dish consumes.
type DishIngredient struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	DishID       int32           `gorm:"not null;uniqueIndex:idx_dish_ingredient"`
	IngredientID int32           `gorm:"not null;uniqueIndex:idx_dish_ingredient"`
	Quantity     decimal.Decimal `gorm:"type:numeric(6,2);not null"`

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID"`
}

type Review struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	UserID    int64  `gorm:"not null;uniqueIndex:idx_review_once"`
	DishID    int32  `gorm:"not null;uniqueIndex:idx_review_once"`
	OrderID   int64  `gorm:"not null;uniqueIndex:idx_review_once"`
	Rating    int32  `gorm:"not null;default:5"` // 1..5
	Comment   string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time

	User *User `gorm:"foreignKey:UserID"`
	Dish *Dish `gorm:"foreignKey:DishID"`
}
