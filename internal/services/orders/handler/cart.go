package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database/models"
	"cafeteria-system/internal/middleware"
	inventory "cafeteria-system/internal/services/inventory/handler"
)

const (
	CART_KEY_PREFIX = "cart:"
	CART_TTL        = 24 * time.Hour
)

var ErrCartEmpty = errors.New("cart is empty")

// CartLine is one dish entry in a cart.
type CartLine struct {
	DishID   int32 `json:"dish_id"`
	Quantity int32 `json:"quantity"`
}

// Cart is the session cart. It is stored as JSON in Redis, keyed by user,
// and never touches the database until checkout.
type Cart struct {
	UserID int64      `json:"user_id"`
	Lines  []CartLine `json:"lines"`
}

func (c *Cart) Get(dishID int32) int32 {
	for _, line := range c.Lines {
		if line.DishID == dishID {
			return line.Quantity
		}
	}
	return 0
}

// Set replaces the quantity for a dish. A non-positive quantity removes
// the line.
func (c *Cart) Set(dishID int32, quantity int32) {
	if quantity <= 0 {
		c.Remove(dishID)
		return
	}
	for i := range c.Lines {
		if c.Lines[i].DishID == dishID {
			c.Lines[i].Quantity = quantity
			return
		}
	}
	c.Lines = append(c.Lines, CartLine{DishID: dishID, Quantity: quantity})
}

func (c *Cart) Add(dishID int32, quantity int32) {
	c.Set(dishID, c.Get(dishID)+quantity)
}

func (c *Cart) Remove(dishID int32) {
	for i := range c.Lines {
		if c.Lines[i].DishID == dishID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return
		}
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

func (c *Cart) TotalItems() int32 {
	var total int32
	for _, line := range c.Lines {
		total += line.Quantity
	}
	return total
}

// CartStore persists carts in Redis.
type CartStore struct {
	redis *redis.Client
}

func NewCartStore(redisClient *redis.Client) *CartStore {
	return &CartStore{redis: redisClient}
}

func cartKey(userID int64) string {
	return fmt.Sprintf("%s%d", CART_KEY_PREFIX, userID)
}

// Load returns the user's cart, or an empty one when none is stored.
func (s *CartStore) Load(ctx context.Context, userID int64) (*Cart, error) {
	cart := &Cart{UserID: userID}
	data, err := s.redis.Get(ctx, cartKey(userID)).Result()
	if err == redis.Nil {
		return cart, nil
	} else if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), cart); err != nil {
		// A corrupt cart is dropped rather than blocking the user.
		return &Cart{UserID: userID}, nil
	}
	cart.UserID = userID
	return cart, nil
}

func (s *CartStore) Save(ctx context.Context, cart *Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, cartKey(cart.UserID), data, CART_TTL).Err()
}

func (s *CartStore) Clear(ctx context.Context, userID int64) error {
	return s.redis.Del(ctx, cartKey(userID)).Err()
}

// -- Request structs --

type CartItemRequest struct {
	DishID   int32 `json:"dish_id" binding:"required"`
	Quantity int32 `json:"quantity" binding:"required,min=1"`
}

// -- HTTP handlers --

// ViewCart renders the cart with current dish data and a running total.
func (s *OrderHandler) ViewCart(c *gin.Context) {
	userID := middleware.UserIDFrom(c)

	cart, err := s.carts.Load(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}

	type cartView struct {
		DishID   int32           `json:"dish_id"`
		Name     string          `json:"name"`
		Price    decimal.Decimal `json:"price"`
		Quantity int32           `json:"quantity"`
		Subtotal decimal.Decimal `json:"subtotal"`
	}

	items := make([]cartView, 0, len(cart.Lines))
	total := decimal.Zero
	for _, line := range cart.Lines {
		var dish models.Dish
		if err := s.db.First(&dish, line.DishID).Error; err != nil {
			continue
		}
		subtotal := dish.Price.Mul(decimal.NewFromInt32(line.Quantity))
		items = append(items, cartView{
			DishID:   dish.ID,
			Name:     dish.Name,
			Price:    dish.Price,
			Quantity: line.Quantity,
			Subtotal: subtotal,
		})
		total = total.Add(subtotal)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"items":       items,
		"total_items": cart.TotalItems(),
		"total_price": total,
	})
}

// AddToCart adds a dish, rejecting quantities beyond what the kitchen can
// currently serve.
func (s *OrderHandler) AddToCart(c *gin.Context) {
	var req CartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	userID := middleware.UserIDFrom(c)

	var dish models.Dish
	if err := s.db.First(&dish, req.DishID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Dish not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if !dish.IsAvailable {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Dish is not available"})
		return
	}

	cart, err := s.carts.Load(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to load cart"})
		return
	}

	wanted := cart.Get(req.DishID) + req.Quantity
	maxQty, err := inventory.MaxAvailableQuantity(s.db, req.DishID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	if wanted > maxQty {
		c.JSON(http.StatusConflict, gin.H{
			"success":       false,
			"message":       fmt.Sprintf("Only %d servings of %s are available", maxQty, dish.Name),
			"max_available": maxQty,
		})
		return
	}

	cart.Add(req.DishID, req.Quantity)
	if err := s.carts.Save(c.Request.Context(), cart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"message":     fmt.Sprintf("Added %s to cart", dish.Name),
		"total_items": cart.TotalItems(),
	})
}

// UpdateCartItem sets an exact quantity; zero removes the line.
func (s *OrderHandler) UpdateCartItem(c *gin.Context) {
	var req struct {
		DishID   int32 `json:"dish_id" binding:"required"`
		Quantity int32 `json:"quantity"`
	}
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

	cart.Set(req.DishID, req.Quantity)
	if err := s.carts.Save(c.Request.Context(), cart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total_items": cart.TotalItems()})
}

func (s *OrderHandler) RemoveFromCart(c *gin.Context) {
	var req struct {
		DishID int32 `json:"dish_id" binding:"required"`
	}
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

	cart.Remove(req.DishID)
	if err := s.carts.Save(c.Request.Context(), cart); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to save cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "total_items": cart.TotalItems()})
}

func (s *OrderHandler) ClearCart(c *gin.Context) {
	userID := middleware.UserIDFrom(c)

	if err := s.carts.Clear(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to clear cart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Cart cleared"})
}
