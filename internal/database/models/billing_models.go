package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment statuses.
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// Payment methods.
const (
	PayMethodCash    = "cash"
	PayMethodCard    = "card"
	PayMethodBalance = "balance"
)

type Payment struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	OrderID       *int64          `gorm:"index"`
	UserID        int64           `gorm:"not null;index"`
	Amount        decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Status        string          `gorm:"size:20;not null;default:'pending'"`
	PaymentMethod string          `gorm:"size:20;not null;default:'cash'"`
	CompletedAt   *time.Time
	Description   string `gorm:"type:text"`
	CreatedAt     time.Time

	Order *Order `gorm:"foreignKey:OrderID"`
	User  *User  `gorm:"foreignKey:UserID"`
}

// Transaction types.
const (
	TxDeposit = "deposit"
	TxPayment = "payment"
	TxRefund  = "refund"
	TxBonus   = "bonus"
)

// Transaction is one balance ledger entry. Amount is signed: debits are
// negative, credits positive. BalanceAfter records the balance the row left
// the account at.
type Transaction struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	UserID          int64           `gorm:"not null;index"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	TransactionType string          `gorm:"size:20;not null;default:'payment'"`
	BalanceAfter    decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Description     string          `gorm:"type:text"`
	OrderID         *int64
	CreatedAt       time.Time

	User  *User  `gorm:"foreignKey:UserID"`
	Order *Order `gorm:"foreignKey:OrderID"`
}
