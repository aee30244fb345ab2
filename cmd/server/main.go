package main

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"

	"cafeteria-system/config"
	"cafeteria-system/internal/database"
	"cafeteria-system/internal/database/models"
	"cafeteria-system/internal/middleware"
	billing "cafeteria-system/internal/services/billing/handler"
	catalog "cafeteria-system/internal/services/catalog/handler"
	combos "cafeteria-system/internal/services/combos/handler"
	inventory "cafeteria-system/internal/services/inventory/handler"
	orders "cafeteria-system/internal/services/orders/handler"
	users "cafeteria-system/internal/services/users/handler"
	"cafeteria-system/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	utils.SetSecret(cfg.Auth.JWTSecret)

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database connected and migrated")

	redisClient := config.NewRedisClient(cfg.Redis)

	jwtTTL := time.Duration(cfg.Auth.TokenTTL) * time.Hour

	userHandler := users.NewUserHandler(db, redisClient, jwtTTL)
	catalogHandler := catalog.NewCatalogHandler(db, redisClient)
	inventoryHandler := inventory.NewInventoryHandler(db, redisClient)
	orderHandler := orders.NewOrderHandler(db, redisClient)
	comboHandler := combos.NewComboHandler(db, redisClient)
	billingHandler := billing.NewBillingHandler(db, redisClient)

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RateLimit())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"success": true, "status": "ok"})
	})

	api := router.Group("/api/v1")

	// Public routes.
	api.POST("/auth/register", userHandler.Register)
	api.POST("/auth/login", userHandler.Login)
	api.GET("/menu", catalogHandler.Menu)
	api.GET("/menu/categories", catalogHandler.ListCategories)
	api.GET("/menu/dishes/:id", catalogHandler.GetDish)
	api.GET("/menu/dishes/:id/reviews", catalogHandler.ListDishReviews)

	// Any authenticated user.
	auth := api.Group("")
	auth.Use(middleware.JWTAuth())
	{
		auth.GET("/profile", userHandler.Profile)
		auth.GET("/balance", billingHandler.MyBalance)
		auth.POST("/balance/topup", billingHandler.TopUp)
		auth.GET("/orders/:id", orderHandler.GetOrder)
		auth.POST("/orders/:id/pickup", orderHandler.MarkPickedUp)
		auth.GET("/dishes/:id/availability", inventoryHandler.DishAvailability)
	}

	// Students order through the cart.
	student := api.Group("")
	student.Use(middleware.JWTAuth(), middleware.RequireRole(models.RoleStudent, models.RoleAdmin))
	{
		student.GET("/cart", orderHandler.ViewCart)
		student.POST("/cart/items", orderHandler.AddToCart)
		student.PUT("/cart/items", orderHandler.UpdateCartItem)
		student.DELETE("/cart/items", orderHandler.RemoveFromCart)
		student.DELETE("/cart", orderHandler.ClearCart)
		student.POST("/orders/checkout", orderHandler.Checkout)
		student.GET("/orders", orderHandler.MyOrders)
		student.POST("/orders/:id/cancel", orderHandler.CancelMyOrder)
		student.POST("/orders/:id/dishes/:dish_id/review", catalogHandler.AddReview)

		student.POST("/combos", comboHandler.CreateFromCart)
		student.GET("/combos", comboHandler.MyComboSets)
		student.POST("/combos/:id/redeem", comboHandler.Redeem)
		student.GET("/combo-orders", comboHandler.MyComboOrders)
		student.POST("/combo-orders/:id/cancel", comboHandler.CancelRedemption)
	}

	// Kitchen staff.
	staff := api.Group("/kitchen")
	staff.Use(middleware.JWTAuth(), middleware.RequireRole(models.RoleChef, models.RoleAdmin))
	{
		staff.GET("/orders", orderHandler.KitchenQueue)
		staff.PATCH("/orders/:id/status", orderHandler.UpdateOrderStatus)
		staff.GET("/combo-orders", comboHandler.ComboQueue)
		staff.PATCH("/combo-orders/:id/status", comboHandler.UpdateComboStatus)

		staff.GET("/stock", inventoryHandler.ListStock)
		staff.GET("/stock/:id", inventoryHandler.GetStock)
		staff.PUT("/stock", inventoryHandler.UpsertStock)
		staff.POST("/stock/restock", inventoryHandler.Restock)
		staff.POST("/stock/adjust", inventoryHandler.AdjustStock)
		staff.POST("/stock/waste", inventoryHandler.RecordWaste)
		staff.POST("/stock/request", inventoryHandler.RequestRestock)
		staff.GET("/stock/history", inventoryHandler.ListStockHistory)
		staff.GET("/costs", inventoryHandler.ListIngredientCosts)
		staff.PUT("/costs", inventoryHandler.UpsertIngredientCost)
		staff.GET("/prepared", inventoryHandler.ListPreparedDishes)
		staff.POST("/prepared", inventoryHandler.PrepareDish)
	}

	// Admin only.
	admin := api.Group("/admin")
	admin.Use(middleware.JWTAuth(), middleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/users", userHandler.ListUsers)
		admin.PATCH("/users/:id/role", userHandler.ChangeRole)
		admin.PATCH("/users/:id/active", userHandler.SetUserActive)
		admin.GET("/orders", orderHandler.ListAllOrders)
		admin.POST("/orders/:id/paid", orderHandler.MarkOrderPaid)
		admin.GET("/statistics", billingHandler.Statistics)

		admin.POST("/categories", catalogHandler.CreateCategory)
		admin.GET("/ingredients", catalogHandler.ListIngredients)
		admin.POST("/ingredients", catalogHandler.CreateIngredient)
		admin.POST("/dishes", catalogHandler.CreateDish)
		admin.PUT("/dishes/:id", catalogHandler.UpdateDish)
	}

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
