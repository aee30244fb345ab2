package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the closed set of account roles. Capability checks go through
// the methods below instead of string comparisons scattered over handlers.
type Role string

const (
	RoleStudent Role = "student"
	RoleChef    Role = "chef"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleChef, RoleAdmin:
		return true
	}
	return false
}

func (r Role) CanOrderDishes() bool {
	return r == RoleStudent || r == RoleAdmin
}

// Only students carry a cart.
func (r Role) CanUseCart() bool {
	return r == RoleStudent
}

func (r Role) CanChangeOrderStatus() bool {
	return r == RoleChef || r == RoleAdmin
}

func (r Role) CanViewAllOrders() bool {
	return r == RoleChef || r == RoleAdmin
}

func (r Role) CanManageStock() bool {
	return r == RoleChef || r == RoleAdmin
}

type User struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	Username    string          `gorm:"uniqueIndex;not null"`
	Email       string          `gorm:"uniqueIndex;not null"`
	Password    string          `gorm:"not null"`
	Role        Role            `gorm:"size:20;not null;default:'student'"`
	Phone       string          `gorm:"size:15"`
	BirthDate   *time.Time      `gorm:"type:date"`
	Balance     decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	BonusPoints int32           `gorm:"not null;default:0"`
	IsActive    bool            `gorm:"default:true"`
	LastLogin   *time.Time
	CreatedAt   *time.Time `gorm:"autoCreateTime"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime"`
}

func (u *User) CanAfford(amount decimal.Decimal) bool {
	return u.Balance.GreaterThanOrEqual(amount)
}
