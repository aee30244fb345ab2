package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database"
	"cafeteria-system/internal/database/models"
	"cafeteria-system/internal/middleware"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

type BillingHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewBillingHandler(db *gorm.DB, redisClient *redis.Client) *BillingHandler {
	return &BillingHandler{
		db:    db,
		redis: redisClient,
	}
}

// DebitBalance takes amount off the user's balance and writes the ledger
// row, all against the caller's transaction. The user row is locked for
// update so concurrent debits cannot both pass the affordability check.
func DebitBalance(tx *gorm.DB, userID int64, amount decimal.Decimal, txType, description string, orderID *int64) (*models.Transaction, error) {
	var user models.User
	if err := database.LockForUpdate(tx).
		First(&user, userID).Error; err != nil {
		return nil, err
	}

	if !user.CanAfford(amount) {
		return nil, ErrInsufficientBalance
	}

	user.Balance = user.Balance.Sub(amount)
	if err := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", user.Balance).Error; err != nil {
		return nil, err
	}

	entry := models.Transaction{
		UserID:          userID,
		Amount:          amount.Neg(),
		TransactionType: txType,
		BalanceAfter:    user.Balance,
		Description:     description,
		OrderID:         orderID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// CreditBalance adds amount to the user's balance and writes the ledger row.
func CreditBalance(tx *gorm.DB, userID int64, amount decimal.Decimal, txType, description string, orderID *int64) (*models.Transaction, error) {
	var user models.User
	if err := database.LockForUpdate(tx).
		First(&user, userID).Error; err != nil {
		return nil, err
	}

	user.Balance = user.Balance.Add(amount)
	if err := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", user.Balance).Error; err != nil {
		return nil, err
	}

	entry := models.Transaction{
		UserID:          userID,
		Amount:          amount,
		TransactionType: txType,
		BalanceAfter:    user.Balance,
		Description:     description,
		OrderID:         orderID,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// RecordPayment writes a completed payment row.
func RecordPayment(tx *gorm.DB, userID int64, orderID *int64, amount decimal.Decimal, method, description string) (*models.Payment, error) {
	now := time.Now()
	payment := models.Payment{
		OrderID:       orderID,
		UserID:        userID,
		Amount:        amount,
		Status:        models.PaymentPaid,
		PaymentMethod: method,
		CompletedAt:   &now,
		Description:   description,
	}
	if err := tx.Create(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

// -- Request structs --

type TopUpRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// -- HTTP handlers --

func (s *BillingHandler) MyBalance(c *gin.Context) {
	userID := middleware.UserIDFrom(c)

	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	var transactions []models.Transaction
	if err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(50).
		Find(&transactions).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	var recentOrders []models.Order
	if err := s.db.Where("customer_id = ?", userID).
		Order("created_at DESC").
		Limit(5).
		Find(&recentOrders).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"balance":       user.Balance,
		"bonus_points":  user.BonusPoints,
		"transactions":  transactions,
		"recent_orders": recentOrders,
	})
}

func (s *BillingHandler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Amount must be positive"})
		return
	}

	userID := middleware.UserIDFrom(c)

	var entry *models.Transaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = CreditBalance(tx, userID, req.Amount, models.TxDeposit, "Balance top-up", nil)
		if err != nil {
			return err
		}
		_, err = RecordPayment(tx, userID, nil, req.Amount, models.PayMethodBalance, "Balance top-up")
		return err
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to top up balance"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       "Balance topped up",
		"balance_after": entry.BalanceAfter,
	})
}

// Statistics aggregates counts and income for the admin dashboard.
func (s *BillingHandler) Statistics(c *gin.Context) {
	today := time.Now().Truncate(24 * time.Hour)

	var totalUsers, totalStudents, totalChefs, totalAdmins int64
	s.db.Model(&models.User{}).Count(&totalUsers)
	s.db.Model(&models.User{}).Where("role = ?", models.RoleStudent).Count(&totalStudents)
	s.db.Model(&models.User{}).Where("role = ?", models.RoleChef).Count(&totalChefs)
	s.db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&totalAdmins)

	var totalOrders, todayOrders, readyOrders, deliveredOrders, pickedUpOrders int64
	s.db.Model(&models.Order{}).Count(&totalOrders)
	s.db.Model(&models.Order{}).Where("created_at >= ?", today).Count(&todayOrders)
	s.db.Model(&models.Order{}).Where("status = ?", models.OrderReady).Count(&readyOrders)
	s.db.Model(&models.Order{}).Where("status = ?", models.OrderDelivered).Count(&deliveredOrders)
	s.db.Model(&models.OrderPickup{}).Count(&pickedUpOrders)

	var totalIncome, todayIncome decimal.NullDecimal
	s.db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentPaid).
		Select("SUM(amount)").
		Scan(&totalIncome)
	s.db.Model(&models.Payment{}).
		Where("status = ? AND created_at >= ?", models.PaymentPaid, today).
		Select("SUM(amount)").
		Scan(&todayIncome)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"users": gin.H{
			"total":    totalUsers,
			"students": totalStudents,
			"chefs":    totalChefs,
			"admins":   totalAdmins,
		},
		"orders": gin.H{
			"total":     totalOrders,
			"today":     todayOrders,
			"ready":     readyOrders,
			"picked_up": pickedUpOrders,
			"delivered": deliveredOrders,
		},
		"income": gin.H{
			"total": totalIncome.Decimal,
			"today": todayIncome.Decimal,
		},
	})
}
