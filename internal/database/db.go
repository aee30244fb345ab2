package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cafeteria-system/internal/database/models"
)

// LockForUpdate applies a row lock on dialects that support it. SQLite
// serializes writers on its own and rejects the FOR UPDATE syntax.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func NewConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		log.Fatal("DSN is required")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("failed to get sql.DB: %v", err)
	}

	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Category{},
		&models.Ingredient{},
		&models.Dish{},
		&models.DishIngredient{},
		&models.Review{},
		&models.IngredientStock{},
		&models.StockHistory{},
		&models.IngredientCost{},
		&models.PreparedDish{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderPickup{},
		&models.ComboSet{},
		&models.ComboItem{},
		&models.ComboOrder{},
		&models.Payment{},
		&models.Transaction{},
	)
}
