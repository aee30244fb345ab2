package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database"
	"cafeteria-system/internal/database/models"
	"cafeteria-system/internal/middleware"
	billing "cafeteria-system/internal/services/billing/handler"
	inventory "cafeteria-system/internal/services/inventory/handler"
)

var (
	ErrOrderNotCancellable = errors.New("order can no longer be cancelled")
	ErrBadStatusTransition = errors.New("status transition not allowed")
)

type OrderHandler struct {
	db    *gorm.DB
	redis *redis.Client
	carts *CartStore
}

func NewOrderHandler(db *gorm.DB, redisClient *redis.Client) *OrderHandler {
	return &OrderHandler{
		db:    db,
		redis: redisClient,
		carts: NewCartStore(redisClient),
	}
}

// PlaceOrder turns cart lines into a paid order inside one transaction:
// prepared units are consumed first, the shortfall is cooked by reserving
// raw ingredients, prices are snapshotted, and the balance is debited.
// Everything rolls back together on any failure.
func PlaceOrder(db *gorm.DB, userID int64, lines []CartLine, notes string) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, ErrCartEmpty
	}

	var order models.Order
	err := db.Transaction(func(tx *gorm.DB) error {
		order = models.Order{
			CustomerID:          userID,
			Status:              models.OrderPending,
			TotalPrice:          decimal.Zero,
			Notes:               notes,
			IsVisibleToCustomer: true,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		total := decimal.Zero
		for _, line := range lines {
			if line.Quantity <= 0 {
				continue
			}

			var dish models.Dish
			if err := tx.First(&dish, line.DishID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return inventory.ErrDishUnavailable
				}
				return err
			}
			if !dish.IsAvailable {
				return inventory.ErrDishUnavailable
			}

			served, err := inventory.ConsumePreparedUnits(tx, dish.ID, line.Quantity)
			if err != nil {
				return err
			}
			if toCook := line.Quantity - served; toCook > 0 {
				if err := inventory.ReserveDishIngredients(tx, &dish, toCook, &userID); err != nil {
					return err
				}
			}

			item := models.OrderItem{
				OrderID:            order.ID,
				DishID:             dish.ID,
				Quantity:           line.Quantity,
				PriceAtTime:        dish.Price,
				Status:             models.ItemPending,
				ServedFromPrepared: served,
			}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
			total = total.Add(item.GetTotal())
		}

		order.TotalPrice = total
		order.Status = models.OrderPreparing
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Updates(map[string]interface{}{"total_price": total, "status": order.Status}).Error; err != nil {
			return err
		}

		description := fmt.Sprintf("Payment for order #%d", order.ID)
		if _, err := billing.DebitBalance(tx, userID, total, models.TxPayment, description, &order.ID); err != nil {
			return err
		}
		_, err := billing.RecordPayment(tx, userID, &order.ID, total, models.PayMethodBalance, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels a pending or confirmed order inside one transaction:
// prepared units go back to their batches, cooked ingredients are restocked
// with ledger rows, and the payment is refunded to the balance.
func CancelOrder(db *gorm.DB, orderID int64, userID int64, byStaff bool) (*models.Order, error) {
	var order models.Order
	err := db.Transaction(func(tx *gorm.DB) error {
		query := database.LockForUpdate(tx).Preload("Items")
		if byStaff {
			query = query.Where("id = ?", orderID)
		} else {
			query = query.Where("id = ? AND customer_id = ?", orderID, userID)
		}
		if err := query.First(&order).Error; err != nil {
			return err
		}

		// Combo backing orders are compensated through their combo order,
		// never through the regular cancel path.
		if !order.IsVisibleToCustomer {
			return ErrOrderNotCancellable
		}
		if order.Status != models.OrderPending && order.Status != models.OrderPreparing {
			return ErrOrderNotCancellable
		}

		for _, item := range order.Items {
			if item.ServedFromPrepared > 0 {
				if err := inventory.RestorePreparedUnits(tx, item.DishID, item.ServedFromPrepared); err != nil {
					return err
				}
			}
			if cooked := item.Quantity - item.ServedFromPrepared; cooked > 0 {
				var dish models.Dish
				if err := tx.First(&dish, item.DishID).Error; err != nil {
					return err
				}
				if err := inventory.ReturnDishIngredients(tx, &dish, cooked, &userID); err != nil {
					return err
				}
			}
		}

		order.Status = models.OrderCancelled
		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("status", models.OrderCancelled).Error; err != nil {
			return err
		}

		if order.TotalPrice.GreaterThan(decimal.Zero) {
			description := fmt.Sprintf("Refund for cancelled order #%d", order.ID)
			if _, err := billing.CreditBalance(tx, order.CustomerID, order.TotalPrice, models.TxRefund, description, &order.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// -- Request structs --

type CheckoutRequest struct {
	Notes string `json:"notes,omitempty"`
}

type OrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type ListOrdersQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit,default=50"`
	Offset int    `form:"offset,default=0"`
}

// -- HTTP handlers --

// Checkout converts the Redis cart into a paid order and clears the cart.
func (s *OrderHandler) Checkout(c *gin.Context) {
	var req CheckoutRequest
	_ = c.ShouldBindJSON(&req)

	userID := middleware.UserIDFrom(c)

	cart, err := s.carts.Load(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}
	if cart.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Cart is empty"})
		return
	}

	order, err := PlaceOrder(s.db, userID, cart.Lines, req.Notes)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"success": false, "message": "Insufficient balance"})
		case errors.Is(err, inventory.ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Not enough ingredients in stock"})
		case errors.Is(err, inventory.ErrDishUnavailable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "A dish in the cart is not available"})
		case errors.Is(err, inventory.ErrNoRecipe):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "A dish in the cart cannot be cooked right now"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to place order"})
		}
		return
	}

	if err := s.carts.Clear(c.Request.Context(), userID); err != nil {
		// The order went through; a stale cart is an acceptable leftover.
		_ = err
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"message":     fmt.Sprintf("Order #%d placed", order.ID),
		"order_id":    order.ID,
		"total_price": order.TotalPrice,
		"status":      order.Status,
	})
}

func (s *OrderHandler) MyOrders(c *gin.Context) {
	userID := middleware.UserIDFrom(c)

	var orders []models.Order
	if err := s.db.Where("customer_id = ? AND is_visible_to_customer = ?", userID, true).
		Preload("Items.Dish").
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	active := make([]models.Order, 0)
	history := make([]models.Order, 0)
	for _, order := range orders {
		switch order.Status {
		case models.OrderPickedUp, models.OrderDelivered, models.OrderCancelled:
			history = append(history, order)
		default:
			active = append(active, order)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"active":  active,
		"history": history,
	})
}

func (s *OrderHandler) GetOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order id"})
		return
	}

	userID := middleware.UserIDFrom(c)
	role := middleware.RoleFrom(c)

	query := s.db.Preload("Items.Dish").Preload("Pickup")
	if !role.CanViewAllOrders() {
		query = query.Where("customer_id = ?", userID)
	}

	var order models.Order
	if err := query.First(&order, orderID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (s *OrderHandler) CancelMyOrder(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order id"})
		return
	}

	userID := middleware.UserIDFrom(c)
	role := middleware.RoleFrom(c)

	order, err := CancelOrder(s.db, orderID, userID, role.CanChangeOrderStatus())
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
		case errors.Is(err, ErrOrderNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Order can no longer be cancelled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to cancel order"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"message":  fmt.Sprintf("Order #%d cancelled and refunded", order.ID),
		"order_id": order.ID,
	})
}

// MarkPickedUp records the handover. Idempotent per order via the unique
// pickup row.
func (s *OrderHandler) MarkPickedUp(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order id"})
		return
	}

	userID := middleware.UserIDFrom(c)
	role := middleware.RoleFrom(c)

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		query := database.LockForUpdate(tx)
		if !role.CanChangeOrderStatus() {
			query = query.Where("customer_id = ?", userID)
		}

		var order models.Order
		if err := query.First(&order, orderID).Error; err != nil {
			return err
		}
		if order.Status != models.OrderReady {
			return ErrBadStatusTransition
		}

		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("status", models.OrderPickedUp).Error; err != nil {
			return err
		}

		pickup := models.OrderPickup{
			OrderID:    order.ID,
			PickedUpBy: &userID,
		}
		return tx.Create(&pickup).Error
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
		case errors.Is(txErr, ErrBadStatusTransition):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Order is not ready for pickup"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to record pickup"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Order picked up"})
}

// -- Kitchen / admin handlers --

// KitchenQueue lists orders the kitchen still has to act on.
func (s *OrderHandler) KitchenQueue(c *gin.Context) {
	var orders []models.Order
	if err := s.db.Where("status IN ?", []string{
		models.OrderPending, models.OrderPreparing, models.OrderReady,
	}).
		Preload("Items.Dish").
		Preload("Customer").
		Order("created_at").
		Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "orders": orders})
}

func (s *OrderHandler) ListAllOrders(c *gin.Context) {
	var query ListOrdersQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if query.Limit <= 0 || query.Limit > 200 {
		query.Limit = 50
	}

	dbq := s.db.Preload("Items.Dish").Preload("Customer").Order("created_at DESC")
	if query.Status != "" {
		if !models.ValidOrderStatus(query.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid status filter"})
			return
		}
		dbq = dbq.Where("status = ?", query.Status)
	}

	var total int64
	dbq.Model(&models.Order{}).Count(&total)

	var orders []models.Order
	if err := dbq.Limit(query.Limit).Offset(query.Offset).Find(&orders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
		"total":   total,
		"limit":   query.Limit,
		"offset":  query.Offset,
	})
}

// UpdateOrderStatus moves an order along the pipeline. Chefs may only move
// preparing orders into ready; admins may set any valid status.
func (s *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order id"})
		return
	}

	var req OrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if !models.ValidOrderStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid status"})
		return
	}

	role := middleware.RoleFrom(c)

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := database.LockForUpdate(tx).
			First(&order, orderID).Error; err != nil {
			return err
		}

		if role != models.RoleAdmin && !chefTransitionAllowed(order.Status, req.Status) {
			return ErrBadStatusTransition
		}

		return tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("status", req.Status).Error
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
		case errors.Is(txErr, ErrBadStatusTransition):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Status transition not allowed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update status"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Status updated", "status": req.Status})
}

// MarkOrderPaid records an out-of-band payment for an order, for cash or
// card taken at the counter.
func (s *OrderHandler) MarkOrderPaid(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order id"})
		return
	}

	var req struct {
		Method string `json:"method,omitempty"`
	}
	_ = c.ShouldBindJSON(&req)
	method := req.Method
	if method == "" {
		method = models.PayMethodCash
	}
	if method != models.PayMethodCash && method != models.PayMethodCard && method != models.PayMethodBalance {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Unknown payment method"})
		return
	}

	var payment *models.Payment
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.First(&order, orderID).Error; err != nil {
			return err
		}

		var existing int64
		tx.Model(&models.Payment{}).
			Where("order_id = ? AND status = ?", order.ID, models.PaymentPaid).
			Count(&existing)
		if existing > 0 {
			return ErrBadStatusTransition
		}

		var err error
		payment, err = billing.RecordPayment(tx, order.CustomerID, &order.ID, order.TotalPrice,
			method, fmt.Sprintf("Counter payment for order #%d", order.ID))
		return err
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
		case errors.Is(txErr, ErrBadStatusTransition):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Order is already paid"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to record payment"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "payment": payment})
}

func chefTransitionAllowed(from, to string) bool {
	return from == models.OrderPreparing && to == models.OrderReady
}
