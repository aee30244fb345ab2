package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database"
	"cafeteria-system/internal/database/models"
	"cafeteria-system/internal/middleware"
)

const (
	STOCK_CACHE_KEY    = "inventory:stocks"
	PREPARED_CACHE_KEY = "inventory:prepared"
	COSTS_CACHE_KEY    = "inventory:costs"
	CACHE_TTL_SHORT    = 5 * time.Minute
	CACHE_TTL_MEDIUM   = 30 * time.Minute
)

type InventoryHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewInventoryHandler(db *gorm.DB, redisClient *redis.Client) *InventoryHandler {
	return &InventoryHandler{
		db:    db,
		redis: redisClient,
	}
}

func (s *InventoryHandler) InvalidateInventoryCaches(ctx context.Context) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx, STOCK_CACHE_KEY, PREPARED_CACHE_KEY, COSTS_CACHE_KEY)
}

// -- Request structs --

type StockOperationRequest struct {
	IngredientID int32           `json:"ingredient_id" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
	Notes        string          `json:"notes,omitempty"`
}

type UpsertStockRequest struct {
	IngredientID int32            `json:"ingredient_id" binding:"required"`
	MinQuantity  *decimal.Decimal `json:"min_quantity,omitempty"`
	Unit         string           `json:"unit,omitempty"`
}

type UpsertCostRequest struct {
	IngredientID int32           `json:"ingredient_id" binding:"required"`
	CostPerUnit  decimal.Decimal `json:"cost_per_unit" binding:"required"`
}

type PrepareDishRequest struct {
	DishID      int32  `json:"dish_id" binding:"required"`
	Quantity    int32  `json:"quantity" binding:"required,min=1"`
	MaxQuantity *int32 `json:"max_quantity,omitempty"`
}

type ListHistoryQuery struct {
	Page          int    `form:"page,default=1"`
	PageSize      int    `form:"page_size,default=20"`
	IngredientID  *int32 `form:"ingredient_id,omitempty"`
	OperationType string `form:"operation_type,omitempty"`
}

// -- Stock --

func (s *InventoryHandler) ListStock(c *gin.Context) {
	lowOnly := c.Query("low") == "true"

	if !lowOnly && s.redis != nil {
		if cached, err := s.redis.Get(c.Request.Context(), STOCK_CACHE_KEY).Result(); err == nil {
			var stocks []models.IngredientStock
			if json.Unmarshal([]byte(cached), &stocks) == nil {
				c.JSON(http.StatusOK, gin.H{"success": true, "stocks": stocks, "cached": true})
				return
			}
		}
	}

	var stocks []models.IngredientStock
	query := s.db.Preload("Ingredient").Order("ingredient_id")
	if lowOnly {
		query = query.Where("current_quantity <= min_quantity")
	}
	if err := query.Find(&stocks).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if !lowOnly && s.redis != nil {
		if data, err := json.Marshal(stocks); err == nil {
			_ = s.redis.Set(c.Request.Context(), STOCK_CACHE_KEY, data, CACHE_TTL_SHORT)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "stocks": stocks})
}

func (s *InventoryHandler) GetStock(c *gin.Context) {
	ingredientID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid ingredient id"})
		return
	}

	var stock models.IngredientStock
	if err := s.db.Where("ingredient_id = ?", ingredientID).
		Preload("Ingredient").
		First(&stock).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Stock not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"stock":        stock,
		"is_low":       stock.IsLow(),
		"out_of_stock": stock.IsOutOfStock(),
	})
}

// UpsertStock creates or updates the stock row for an ingredient without
// moving quantity. Quantity changes go through the ledgered operations.
func (s *InventoryHandler) UpsertStock(c *gin.Context) {
	var req UpsertStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	var ingredient models.Ingredient
	if err := s.db.First(&ingredient, req.IngredientID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Ingredient not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	var stock models.IngredientStock
	err := s.db.Where("ingredient_id = ?", req.IngredientID).First(&stock).Error
	if err == gorm.ErrRecordNotFound {
		stock = models.IngredientStock{
			IngredientID: req.IngredientID,
			Unit:         ingredient.Unit,
		}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if req.MinQuantity != nil {
		stock.MinQuantity = *req.MinQuantity
	}
	if req.Unit != "" {
		stock.Unit = req.Unit
	}

	if err := s.db.Save(&stock).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save stock"})
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "stock": stock})
}

func (s *InventoryHandler) Restock(c *gin.Context) {
	s.applyStockOperation(c, models.StockOpRestock)
}

func (s *InventoryHandler) AdjustStock(c *gin.Context) {
	s.applyStockOperation(c, models.StockOpAdjustment)
}

func (s *InventoryHandler) RecordWaste(c *gin.Context) {
	s.applyStockOperation(c, models.StockOpWaste)
}

// RequestRestock records that someone asked for more of an ingredient.
// Ledger row only; quantity on hand does not move.
func (s *InventoryHandler) RequestRestock(c *gin.Context) {
	var req StockOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "quantity must be greater than 0"})
		return
	}

	var stock models.IngredientStock
	if err := s.db.Where("ingredient_id = ?", req.IngredientID).First(&stock).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Stock not found for this ingredient"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	userID := middleware.UserIDFrom(c)
	history := models.StockHistory{
		IngredientID:   req.IngredientID,
		OperationType:  models.StockOpRequest,
		QuantityChange: req.Quantity,
		QuantityBefore: stock.CurrentQuantity,
		QuantityAfter:  stock.CurrentQuantity,
		PerformedBy:    &userID,
		Notes:          req.Notes,
	}
	if err := s.db.Create(&history).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to record request"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "history": history})
}

// applyStockOperation moves quantity and appends the matching ledger row in
// one transaction. Restock adds, waste subtracts, adjustment applies the
// signed delta as given. Quantity on hand never goes below zero.
func (s *InventoryHandler) applyStockOperation(c *gin.Context, opType string) {
	var req StockOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	delta := req.Quantity
	switch opType {
	case models.StockOpRestock:
		if delta.LessThanOrEqual(decimal.Zero) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "quantity must be greater than 0"})
			return
		}
	case models.StockOpWaste:
		if delta.LessThanOrEqual(decimal.Zero) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "quantity must be greater than 0"})
			return
		}
		delta = delta.Neg()
	case models.StockOpAdjustment:
		if delta.IsZero() {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "quantity must not be zero"})
			return
		}
	}

	userID := middleware.UserIDFrom(c)

	var updated models.IngredientStock
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var stock models.IngredientStock
		if err := database.LockForUpdate(tx).
			Where("ingredient_id = ?", req.IngredientID).
			First(&stock).Error; err != nil {
			return err
		}

		before := stock.CurrentQuantity
		after := before.Add(delta)
		if after.IsNegative() {
			after = decimal.Zero
			delta = after.Sub(before)
		}

		stock.CurrentQuantity = after
		if opType == models.StockOpRestock {
			stock.LastRestocked = time.Now()
		}
		if err := tx.Save(&stock).Error; err != nil {
			return err
		}

		history := models.StockHistory{
			IngredientID:   req.IngredientID,
			OperationType:  opType,
			QuantityChange: delta,
			QuantityBefore: before,
			QuantityAfter:  after,
			TotalCost:      ingredientUsageCost(tx, req.IngredientID, delta.Abs()),
			PerformedBy:    &userID,
			Notes:          req.Notes,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}

		updated = stock
		return nil
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Stock not found for this ingredient"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to apply stock operation"})
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "stock": updated})
}

func (s *InventoryHandler) ListStockHistory(c *gin.Context) {
	var q ListHistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	query := s.db.Model(&models.StockHistory{}).Preload("Ingredient")
	if q.IngredientID != nil {
		query = query.Where("ingredient_id = ?", *q.IngredientID)
	}
	if q.OperationType != "" {
		if !models.ValidStockOp(q.OperationType) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Unknown operation type"})
			return
		}
		query = query.Where("operation_type = ?", q.OperationType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}

	var history []models.StockHistory
	offset := (q.Page - 1) * q.PageSize
	if err := query.Order("created_at DESC").
		Offset(offset).Limit(q.PageSize).
		Find(&history).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"history": history,
		"total":   total,
		"page":    q.Page,
	})
}

// -- Ingredient costs --

func (s *InventoryHandler) UpsertIngredientCost(c *gin.Context) {
	var req UpsertCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if req.CostPerUnit.IsNegative() {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "cost_per_unit must not be negative"})
		return
	}

	var cost models.IngredientCost
	err := s.db.Where("ingredient_id = ?", req.IngredientID).First(&cost).Error
	if err == gorm.ErrRecordNotFound {
		cost = models.IngredientCost{IngredientID: req.IngredientID}
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	cost.CostPerUnit = req.CostPerUnit
	if err := s.db.Save(&cost).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cost"})
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "cost": cost})
}

func (s *InventoryHandler) ListIngredientCosts(c *gin.Context) {
	var costs []models.IngredientCost
	if err := s.db.Preload("Ingredient").Order("ingredient_id").Find(&costs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "costs": costs})
}

// -- Prepared dishes --

// PrepareDish cooks quantity units of a dish ahead of time: raw ingredients
// are reserved and the prepared batch grows, capped at its max.
func (s *InventoryHandler) PrepareDish(c *gin.Context) {
	var req PrepareDishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	userID := middleware.UserIDFrom(c)

	var batch models.PreparedDish
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var dish models.Dish
		if err := tx.First(&dish, req.DishID).Error; err != nil {
			return err
		}

		if err := ReserveDishIngredients(tx, &dish, req.Quantity, &userID); err != nil {
			return err
		}

		err := database.LockForUpdate(tx).
			Where("dish_id = ?", req.DishID).
			Order("prepared_at").
			First(&batch).Error
		if err == gorm.ErrRecordNotFound {
			batch = models.PreparedDish{
				DishID:      req.DishID,
				MaxQuantity: 20,
				PreparedBy:  &userID,
			}
		} else if err != nil {
			return err
		}

		if req.MaxQuantity != nil && *req.MaxQuantity > 0 {
			batch.MaxQuantity = *req.MaxQuantity
		}

		batch.Quantity += req.Quantity
		if batch.Quantity > batch.MaxQuantity {
			batch.Quantity = batch.MaxQuantity
		}
		batch.PreparedBy = &userID

		return tx.Save(&batch).Error
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Dish not found"})
			return
		}
		if errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrNoRecipe) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to prepare dish"})
		return
	}

	s.InvalidateInventoryCaches(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "prepared": batch})
}

func (s *InventoryHandler) ListPreparedDishes(c *gin.Context) {
	var batches []models.PreparedDish
	if err := s.db.Preload("Dish").Order("dish_id").Find(&batches).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	type preparedView struct {
		models.PreparedDish
		NeedsPreparation bool `json:"needs_preparation"`
	}
	views := make([]preparedView, len(batches))
	for i, b := range batches {
		views[i] = preparedView{PreparedDish: b, NeedsPreparation: b.NeedsPreparation()}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "prepared": views})
}

// -- Availability --

func (s *InventoryHandler) DishAvailability(c *gin.Context) {
	dishID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid dish id"})
		return
	}

	quantity := 1
	if q := c.Query("quantity"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			quantity = n
		}
	}

	available, shortages, err := CheckDishAvailability(s.db, int32(dishID), int32(quantity))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	maxAvailable, err := MaxAvailableQuantity(s.db, int32(dishID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"available":     available,
		"shortages":     shortages,
		"max_available": maxAvailable,
	})
}
