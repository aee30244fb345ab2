package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database/models"
	"cafeteria-system/internal/middleware"
)

const (
	MENU_CACHE_KEY       = "catalog:menu"
	CATEGORIES_CACHE_KEY = "catalog:categories"
	CACHE_TTL_SHORT      = 5 * time.Minute
	CACHE_TTL_MEDIUM     = 30 * time.Minute
)

type CatalogHandler struct {
	db    *gorm.DB
	redis *redis.Client
}

func NewCatalogHandler(db *gorm.DB, redisClient *redis.Client) *CatalogHandler {
	return &CatalogHandler{
		db:    db,
		redis: redisClient,
	}
}

func (s *CatalogHandler) InvalidateCatalogCaches(ctx context.Context) {
	if s.redis == nil {
		return
	}
	_ = s.redis.Del(ctx, MENU_CACHE_KEY, CATEGORIES_CACHE_KEY)
}

// -- Request structs --

type RecipeLineRequest struct {
	IngredientID int32           `json:"ingredient_id" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
}

type CreateDishRequest struct {
	Name        string              `json:"name" binding:"required"`
	Description string              `json:"description,omitempty"`
	Price       decimal.Decimal     `json:"price" binding:"required"`
	CategoryID  int32               `json:"category_id" binding:"required"`
	IsAvailable *bool               `json:"is_available,omitempty"`
	Ingredients []RecipeLineRequest `json:"ingredients,omitempty"`
}

type CreateCategoryRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description,omitempty"`
}

type CreateIngredientRequest struct {
	Name string `json:"name" binding:"required"`
	Unit string `json:"unit" binding:"required"`
}

type AddReviewRequest struct {
	Rating  int32  `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty"`
}

// -- Menu --

// Menu lists available dishes, optionally filtered by category. The
// unfiltered listing is cached in Redis.
func (s *CatalogHandler) Menu(c *gin.Context) {
	categoryFilter := c.Query("category")

	if categoryFilter == "" && s.redis != nil {
		if cached, err := s.redis.Get(c.Request.Context(), MENU_CACHE_KEY).Result(); err == nil {
			var dishes []models.Dish
			if json.Unmarshal([]byte(cached), &dishes) == nil {
				c.JSON(http.StatusOK, gin.H{"success": true, "dishes": dishes, "cached": true})
				return
			}
		}
	}

	query := s.db.Where("is_available = ?", true).
		Preload("Category").
		Preload("Ingredients.Ingredient").
		Order("category_id, name")
	if categoryFilter != "" {
		if categoryID, err := strconv.Atoi(categoryFilter); err == nil {
			query = query.Where("category_id = ?", categoryID)
		}
	}

	var dishes []models.Dish
	if err := query.Find(&dishes).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if categoryFilter == "" && s.redis != nil {
		if data, err := json.Marshal(dishes); err == nil {
			_ = s.redis.Set(c.Request.Context(), MENU_CACHE_KEY, data, CACHE_TTL_SHORT)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "dishes": dishes})
}

func (s *CatalogHandler) GetDish(c *gin.Context) {
	dishID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid dish id"})
		return
	}

	var dish models.Dish
	if err := s.db.Preload("Category").
		Preload("Ingredients.Ingredient").
		First(&dish, dishID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Dish not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	var avgRating float64
	s.db.Model(&models.Review{}).
		Where("dish_id = ?", dishID).
		Select("COALESCE(AVG(rating), 0)").
		Scan(&avgRating)

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"dish":           dish,
		"average_rating": avgRating,
	})
}

// -- Categories --

func (s *CatalogHandler) ListCategories(c *gin.Context) {
	if s.redis != nil {
		if cached, err := s.redis.Get(c.Request.Context(), CATEGORIES_CACHE_KEY).Result(); err == nil {
			var categories []models.Category
			if json.Unmarshal([]byte(cached), &categories) == nil {
				c.JSON(http.StatusOK, gin.H{"success": true, "categories": categories, "cached": true})
				return
			}
		}
	}

	var categories []models.Category
	if err := s.db.Order("name").Find(&categories).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if s.redis != nil {
		if data, err := json.Marshal(categories); err == nil {
			_ = s.redis.Set(c.Request.Context(), CATEGORIES_CACHE_KEY, data, CACHE_TTL_MEDIUM)
		}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "categories": categories})
}

func (s *CatalogHandler) CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	category := models.Category{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := s.db.Create(&category).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create category"})
		return
	}

	s.InvalidateCatalogCaches(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{"success": true, "category": category})
}

// -- Ingredients --

func (s *CatalogHandler) ListIngredients(c *gin.Context) {
	var ingredients []models.Ingredient
	if err := s.db.Order("name").Find(&ingredients).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ingredients": ingredients})
}

func (s *CatalogHandler) CreateIngredient(c *gin.Context) {
	var req CreateIngredientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	var existing models.Ingredient
	err := s.db.Where("LOWER(name) = LOWER(?)", req.Name).First(&existing).Error
	if err == nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Ingredient already exists"})
		return
	} else if err != gorm.ErrRecordNotFound {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	ingredient := models.Ingredient{
		Name: req.Name,
		Unit: req.Unit,
	}
	if err := s.db.Create(&ingredient).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create ingredient"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "ingredient": ingredient})
}

// -- Dishes --

func (s *CatalogHandler) CreateDish(c *gin.Context) {
	var req CreateDishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Price must be positive"})
		return
	}

	userID := middleware.UserIDFrom(c)

	var dish models.Dish
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var category models.Category
		if err := tx.First(&category, req.CategoryID).Error; err != nil {
			return err
		}

		isAvailable := true
		if req.IsAvailable != nil {
			isAvailable = *req.IsAvailable
		}

		dish = models.Dish{
			Name:        req.Name,
			Description: req.Description,
			Price:       req.Price,
			CategoryID:  req.CategoryID,
			IsAvailable: isAvailable,
			CreatedBy:   &userID,
		}
		if err := tx.Create(&dish).Error; err != nil {
			return err
		}

		return createRecipeLines(tx, dish.ID, req.Ingredients)
	})
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Category not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to create dish: " + err.Error()})
		return
	}

	s.InvalidateCatalogCaches(c.Request.Context())
	c.JSON(http.StatusCreated, gin.H{"success": true, "dish": dish})
}

// UpdateDish replaces the dish fields and its whole recipe.
func (s *CatalogHandler) UpdateDish(c *gin.Context) {
	dishID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid dish id"})
		return
	}

	var req CreateDishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	var dish models.Dish
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&dish, dishID).Error; err != nil {
			return err
		}

		dish.Name = req.Name
		dish.Description = req.Description
		dish.Price = req.Price
		dish.CategoryID = req.CategoryID
		if req.IsAvailable != nil {
			dish.IsAvailable = *req.IsAvailable
		}
		if err := tx.Save(&dish).Error; err != nil {
			return err
		}

		if err := tx.Where("dish_id = ?", dish.ID).Delete(&models.DishIngredient{}).Error; err != nil {
			return err
		}
		return createRecipeLines(tx, dish.ID, req.Ingredients)
	})
	if txErr != nil {
		if txErr == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Dish not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Failed to update dish"})
		return
	}

	s.InvalidateCatalogCaches(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"success": true, "dish": dish})
}

func createRecipeLines(tx *gorm.DB, dishID int32, lines []RecipeLineRequest) error {
	for _, line := range lines {
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			continue
		}
		recipe := models.DishIngredient{
			DishID:       dishID,
			IngredientID: line.IngredientID,
			Quantity:     line.Quantity,
		}
		if err := tx.Create(&recipe).Error; err != nil {
			return err
		}
	}
	return nil
}

// -- Reviews --

// AddReview lets a student review a dish from one of their completed orders.
func (s *CatalogHandler) AddReview(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid order id"})
		return
	}
	dishID, err := strconv.Atoi(c.Param("dish_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid dish id"})
		return
	}

	var req AddReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}

	userID := middleware.UserIDFrom(c)

	var order models.Order
	if err := s.db.Where("id = ? AND customer_id = ?", orderID, userID).First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	if order.Status != models.OrderPickedUp && order.Status != models.OrderDelivered {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "Reviews are only allowed on completed orders"})
		return
	}

	var count int64
	s.db.Model(&models.OrderItem{}).
		Where("order_id = ? AND dish_id = ?", orderID, dishID).
		Count(&count)
	if count == 0 {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": "This dish was not part of the order"})
		return
	}

	review := models.Review{
		UserID:  userID,
		DishID:  int32(dishID),
		OrderID: orderID,
		Rating:  req.Rating,
		Comment: req.Comment,
	}
	if err := s.db.Create(&review).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"success": false, "message": fmt.Sprintf("Failed to save review: %v", err)})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"success": true, "review": review})
}

func (s *CatalogHandler) ListDishReviews(c *gin.Context) {
	dishID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid dish id"})
		return
	}

	var reviews []models.Review
	if err := s.db.Where("dish_id = ?", dishID).
		Order("created_at DESC").
		Find(&reviews).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "reviews": reviews})
}
