package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order statuses.
const (
	OrderPending   = "pending"
	OrderPreparing = "preparing"
	OrderReady     = "ready"
	OrderPickedUp  = "picked_up"
	OrderDelivered = "delivered"
	OrderCancelled = "cancelled"
)

func ValidOrderStatus(status string) bool {
	switch status {
	case OrderPending, OrderPreparing, OrderReady,
		OrderPickedUp, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Order item statuses.
const (
	ItemPending    = "pending"
	ItemPreparing  = "preparing"
	ItemReady      = "ready"
	ItemOutOfStock = "out_of_stock"
)

type Order struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement"`
	CustomerID          int64           `gorm:"not null;index"`
	Status              string          `gorm:"size:20;not null;default:'pending'"`
	TotalPrice          decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0"`
	Notes               string          `gorm:"type:text"`
	IsVisibleToCustomer bool            `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time

	Customer *User        `gorm:"foreignKey:CustomerID"`
	Items    []OrderItem  `gorm:"foreignKey:OrderID"`
	Pickup   *OrderPickup `gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	OrderID  int64 `gorm:"not null;index"`
	DishID   int32 `gorm:"not null"`
	Quantity int32 `gorm:"not null;default:1"`
	// Price snapshot at order time, decoupled from later Dish.Price edits.
	PriceAtTime decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Status      string          `gorm:"size:20;not null;default:'pending'"`
	// Units served from prepared stock; the rest was cooked to order.
	ServedFromPrepared int32 `gorm:"not null;default:0"`

	Dish *Dish `gorm:"foreignKey:DishID"`
}

func (i *OrderItem) GetTotal() decimal.Decimal {
	return i.PriceAtTime.Mul(decimal.NewFromInt32(i.Quantity))
}

type OrderPickup struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	OrderID    int64     `gorm:"uniqueIndex;not null"`
	PickedUpAt time.Time `gorm:"autoCreateTime"`
	PickedUpBy *int64

	Order *Order `gorm:"foreignKey:OrderID"`
}

// ComboSet is a prepaid bundle: the full amount (TotalPrice × MaxOrders) is
// charged once, then each redemption issues a regular Order against it.
type ComboSet struct {
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	Name        string          `gorm:"size:200;not null"`
	Description string          `gorm:"type:text"`
	CreatedBy   int64           `gorm:"not null;index"`
	TotalPrice  decimal.Decimal `gorm:"type:numeric(10,2);not null"` // per redemption
	IsActive    bool            `gorm:"not null;default:true"`
	MaxOrders   int32           `gorm:"not null;default:1"`
	OrdersUsed  int32           `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Creator *User       `gorm:"foreignKey:CreatedBy"`
	Items   []ComboItem `gorm:"foreignKey:ComboSetID"`
}

func (c *ComboSet) RemainingOrders() int32 {
	if c.OrdersUsed >= c.MaxOrders {
		return 0
	}
	return c.MaxOrders - c.OrdersUsed
}

func (c *ComboSet) IsAvailableForOrder() bool {
	return c.IsActive && c.RemainingOrders() > 0
}

// IncrementUsage consumes one redemption and deactivates the set once the
// limit is reached. The caller persists the mutated fields.
func (c *ComboSet) IncrementUsage() {
	c.OrdersUsed++
	if c.OrdersUsed >= c.MaxOrders {
		c.IsActive = false
	}
}

// DecrementUsage undoes one redemption after a cancellation.
func (c *ComboSet) DecrementUsage() {
	if c.OrdersUsed > 0 {
		c.OrdersUsed--
	}
	if c.OrdersUsed < c.MaxOrders {
		c.IsActive = true
	}
}

func (c *ComboSet) TotalPaid() decimal.Decimal {
	return c.TotalPrice.Mul(decimal.NewFromInt32(c.MaxOrders))
}

type ComboItem struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	ComboSetID int64 `gorm:"not null;index"`
	DishID     int32 `gorm:"not null"`
	Quantity   int32 `gorm:"not null;default:1"`

	Dish *Dish `gorm:"foreignKey:DishID"`
}

// Combo order statuses.
const (
	ComboOrderPreparing = "preparing"
	ComboOrderReady     = "ready"
	ComboOrderPickedUp  = "picked_up"
	ComboOrderCancelled = "cancelled"
)

type ComboOrder struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	ComboSetID  int64  `gorm:"not null;index"`
	CustomerID  int64  `gorm:"not null;index"`
	Status      string `gorm:"size:20;not null;default:'preparing'"`
	MainOrderID *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time

	ComboSet  *ComboSet `gorm:"foreignKey:ComboSetID"`
	Customer  *User     `gorm:"foreignKey:CustomerID"`
	MainOrder *Order    `gorm:"foreignKey:MainOrderID"`
}
