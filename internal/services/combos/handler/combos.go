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
	orders "cafeteria-system/internal/services/orders/handler"
)

var (
	ErrComboExhausted      = errors.New("combo set has no redemptions left")
	ErrComboNotCancellable = errors.New("combo order can no longer be cancelled")
)

type ComboHandler struct {
	db    *gorm.DB
	redis *redis.Client
	carts *orders.CartStore
}

func NewComboHandler(db *gorm.DB, redisClient *redis.Client) *ComboHandler {
	return &ComboHandler{
		db:    db,
		redis: redisClient,
		carts: orders.NewCartStore(redisClient),
	}
}

// CreateComboSet builds a prepaid set from cart lines and charges the full
// amount (per-redemption price × max orders) up front, in one transaction.
func CreateComboSet(db *gorm.DB, userID int64, name, description string, maxOrders int32, lines []orders.CartLine) (*models.ComboSet, error) {
	if len(lines) == 0 {
		return nil, orders.ErrCartEmpty
	}

	var combo models.ComboSet
	err := db.Transaction(func(tx *gorm.DB) error {
		perOrder := decimal.Zero
		items := make([]models.ComboItem, 0, len(lines))
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
			perOrder = perOrder.Add(dish.Price.Mul(decimal.NewFromInt32(line.Quantity)))
			items = append(items, models.ComboItem{DishID: dish.ID, Quantity: line.Quantity})
		}
		if len(items) == 0 {
			return orders.ErrCartEmpty
		}

		combo = models.ComboSet{
			Name:        name,
			Description: description,
			CreatedBy:   userID,
			TotalPrice:  perOrder,
			IsActive:    true,
			MaxOrders:   maxOrders,
			OrdersUsed:  0,
		}
		if err := tx.Create(&combo).Error; err != nil {
			return err
		}

		for i := range items {
			items[i].ComboSetID = combo.ID
			if err := tx.Create(&items[i]).Error; err != nil {
				return err
			}
		}

		charge := combo.TotalPaid()
		chargeDesc := fmt.Sprintf("Prepayment for combo set #%d (%d orders)", combo.ID, maxOrders)
		if _, err := billing.DebitBalance(tx, userID, charge, models.TxPayment, chargeDesc, nil); err != nil {
			return err
		}
		_, err := billing.RecordPayment(tx, userID, nil, charge, models.PayMethodBalance, chargeDesc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &combo, nil
}

// RedeemCombo consumes one redemption of an active set: it issues a backing
// order with snapshot prices, reserves stock for every item, and bumps the
// usage counter, all in one transaction. No balance is touched because the
// set was prepaid.
func RedeemCombo(db *gorm.DB, comboSetID, userID int64) (*models.ComboOrder, error) {
	var comboOrder models.ComboOrder
	err := db.Transaction(func(tx *gorm.DB) error {
		var combo models.ComboSet
		if err := database.LockForUpdate(tx).
			Preload("Items").
			Where("id = ? AND created_by = ?", comboSetID, userID).
			First(&combo).Error; err != nil {
			return err
		}
		if !combo.IsAvailableForOrder() {
			return ErrComboExhausted
		}

		order := models.Order{
			CustomerID:          userID,
			Status:              models.OrderPreparing,
			TotalPrice:          decimal.Zero,
			Notes:               fmt.Sprintf("Combo set #%d redemption", combo.ID),
			IsVisibleToCustomer: false,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}

		total := decimal.Zero
		for _, item := range combo.Items {
			var dish models.Dish
			if err := tx.First(&dish, item.DishID).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return inventory.ErrDishUnavailable
				}
				return err
			}
			if !dish.IsAvailable {
				return inventory.ErrDishUnavailable
			}

			served, err := inventory.ConsumePreparedUnits(tx, dish.ID, item.Quantity)
			if err != nil {
				return err
			}
			if toCook := item.Quantity - served; toCook > 0 {
				if err := inventory.ReserveDishIngredients(tx, &dish, toCook, &userID); err != nil {
					return err
				}
			}

			line := models.OrderItem{
				OrderID:            order.ID,
				DishID:             dish.ID,
				Quantity:           item.Quantity,
				PriceAtTime:        dish.Price,
				Status:             models.ItemPending,
				ServedFromPrepared: served,
			}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
			total = total.Add(line.GetTotal())
		}

		if err := tx.Model(&models.Order{}).
			Where("id = ?", order.ID).
			Update("total_price", total).Error; err != nil {
			return err
		}

		combo.IncrementUsage()
		if err := tx.Model(&models.ComboSet{}).
			Where("id = ?", combo.ID).
			Updates(map[string]interface{}{
				"orders_used": combo.OrdersUsed,
				"is_active":   combo.IsActive,
			}).Error; err != nil {
			return err
		}

		comboOrder = models.ComboOrder{
			ComboSetID:  combo.ID,
			CustomerID:  userID,
			Status:      models.ComboOrderPreparing,
			MainOrderID: &order.ID,
		}
		return tx.Create(&comboOrder).Error
	})
	if err != nil {
		return nil, err
	}
	return &comboOrder, nil
}

// CancelComboRedemption undoes a preparing redemption: stock goes back,
// the backing order is cancelled, and the usage counter is released so the
// set can be redeemed again. No refund because the prepayment stays with
// the set.
func CancelComboRedemption(db *gorm.DB, comboOrderID, userID int64, byStaff bool) (*models.ComboOrder, error) {
	var comboOrder models.ComboOrder
	err := db.Transaction(func(tx *gorm.DB) error {
		query := database.LockForUpdate(tx)
		if byStaff {
			query = query.Where("id = ?", comboOrderID)
		} else {
			query = query.Where("id = ? AND customer_id = ?", comboOrderID, userID)
		}
		if err := query.First(&comboOrder).Error; err != nil {
			return err
		}
		if comboOrder.Status != models.ComboOrderPreparing {
			return ErrComboNotCancellable
		}

		if comboOrder.MainOrderID != nil {
			var order models.Order
			if err := tx.Preload("Items").First(&order, *comboOrder.MainOrderID).Error; err != nil {
				return err
			}
			// An already-cancelled backing order has been compensated;
			// restoring again would double the stock.
			if order.Status != models.OrderCancelled {
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
				if err := tx.Model(&models.Order{}).
					Where("id = ?", order.ID).
					Update("status", models.OrderCancelled).Error; err != nil {
					return err
				}
			}
		}

		var combo models.ComboSet
		if err := database.LockForUpdate(tx).
			First(&combo, comboOrder.ComboSetID).Error; err != nil {
			return err
		}
		combo.DecrementUsage()
		if err := tx.Model(&models.ComboSet{}).
			Where("id = ?", combo.ID).
			Updates(map[string]interface{}{
				"orders_used": combo.OrdersUsed,
				"is_active":   combo.IsActive,
			}).Error; err != nil {
			return err
		}

		comboOrder.Status = models.ComboOrderCancelled
		return tx.Model(&models.ComboOrder{}).
			Where("id = ?", comboOrder.ID).
			Update("status", models.ComboOrderCancelled).Error
	})
	if err != nil {
		return nil, err
	}
	return &comboOrder, nil
}

// -- Request structs --

type CreateComboRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
	MaxOrders   int32  `json:"max_orders" binding:"required,min=1,max=100"`
}

type ComboStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// -- HTTP handlers --

// CreateFromCart turns the current cart into a prepaid combo set and clears
// the cart on success.
func (s *ComboHandler) CreateFromCart(c *gin.Context) {
	var req CreateComboRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

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

	combo, err := CreateComboSet(s.db, userID, req.Name, req.Description, req.MaxOrders, cart.Lines)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInsufficientBalance):
			c.JSON(http.StatusPaymentRequired, gin.H{"success": false, "message": "Insufficient balance for prepayment"})
		case errors.Is(err, inventory.ErrDishUnavailable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "A dish in the cart is not available"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create combo set"})
		}
		return
	}

	_ = s.carts.Clear(c.Request.Context(), userID)

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"message":    fmt.Sprintf("Combo set #%d created", combo.ID),
		"combo_set":  combo,
		"total_paid": combo.TotalPaid(),
		"max_orders": combo.MaxOrders,
		"per_order":  combo.TotalPrice,
	})
}

func (s *ComboHandler) MyComboSets(c *gin.Context) {
	userID := middleware.UserIDFrom(c)

	var sets []models.ComboSet
	if err := s.db.Where("created_by = ?", userID).
		Preload("Items.Dish").
		Order("created_at DESC").
		Find(&sets).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	type setView struct {
		models.ComboSet
		RemainingOrders int32 `json:"remaining_orders"`
	}
	views := make([]setView, 0, len(sets))
	for _, set := range sets {
		views = append(views, setView{ComboSet: set, RemainingOrders: set.RemainingOrders()})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "combo_sets": views})
}

func (s *ComboHandler) Redeem(c *gin.Context) {
	comboSetID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid combo set id"})
		return
	}

	userID := middleware.UserIDFrom(c)

	comboOrder, err := RedeemCombo(s.db, comboSetID, userID)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Combo set not found"})
		case errors.Is(err, ErrComboExhausted):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Combo set has no redemptions left"})
		case errors.Is(err, inventory.ErrInsufficientStock):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Not enough ingredients in stock"})
		case errors.Is(err, inventory.ErrDishUnavailable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "A dish in the combo is not available"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to redeem combo"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"message":        "Combo order placed",
		"combo_order_id": comboOrder.ID,
		"status":         comboOrder.Status,
	})
}

func (s *ComboHandler) MyComboOrders(c *gin.Context) {
	userID := middleware.UserIDFrom(c)

	var comboOrders []models.ComboOrder
	if err := s.db.Where("customer_id = ?", userID).
		Preload("ComboSet").
		Preload("MainOrder.Items.Dish").
		Order("created_at DESC").
		Find(&comboOrders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "combo_orders": comboOrders})
}

func (s *ComboHandler) CancelRedemption(c *gin.Context) {
	comboOrderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid combo order id"})
		return
	}

	userID := middleware.UserIDFrom(c)
	role := middleware.RoleFrom(c)

	comboOrder, err := CancelComboRedemption(s.db, comboOrderID, userID, role.CanChangeOrderStatus())
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Combo order not found"})
		case errors.Is(err, ErrComboNotCancellable):
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Combo order can no longer be cancelled"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to cancel combo order"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Combo order cancelled, redemption returned to the set",
		"combo_order_id": comboOrder.ID,
	})
}

// -- Kitchen handlers --

func (s *ComboHandler) ComboQueue(c *gin.Context) {
	var comboOrders []models.ComboOrder
	if err := s.db.Where("status IN ?", []string{
		models.ComboOrderPreparing, models.ComboOrderReady,
	}).
		Preload("ComboSet.Items.Dish").
		Preload("Customer").
		Order("created_at").
		Find(&comboOrders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "combo_orders": comboOrders})
}

// UpdateComboStatus advances a combo order. Chefs move preparing to ready
// and ready to picked_up; the backing order is kept in step.
func (s *ComboHandler) UpdateComboStatus(c *gin.Context) {
	comboOrderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid combo order id"})
		return
	}

	var req ComboStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		var comboOrder models.ComboOrder
		if err := database.LockForUpdate(tx).
			First(&comboOrder, comboOrderID).Error; err != nil {
			return err
		}

		if !comboTransitionAllowed(comboOrder.Status, req.Status) {
			return orders.ErrBadStatusTransition
		}

		if err := tx.Model(&models.ComboOrder{}).
			Where("id = ?", comboOrder.ID).
			Update("status", req.Status).Error; err != nil {
			return err
		}

		if comboOrder.MainOrderID != nil {
			mapped := map[string]string{
				models.ComboOrderReady:    models.OrderReady,
				models.ComboOrderPickedUp: models.OrderPickedUp,
			}
			if mainStatus, ok := mapped[req.Status]; ok {
				if err := tx.Model(&models.Order{}).
					Where("id = ?", *comboOrder.MainOrderID).
					Update("status", mainStatus).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if txErr != nil {
		switch {
		case errors.Is(txErr, gorm.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Combo order not found"})
		case errors.Is(txErr, orders.ErrBadStatusTransition):
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "Status transition not allowed"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update status"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Status updated", "status": req.Status})
}

func comboTransitionAllowed(from, to string) bool {
	switch {
	case from == models.ComboOrderPreparing && to == models.ComboOrderReady:
		return true
	case from == models.ComboOrderReady && to == models.ComboOrderPickedUp:
		return true
	}
	return false
}
