package handler

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database"
	"cafeteria-system/internal/database/models"
)

var (
	ErrInsufficientStock = errors.New("insufficient ingredient stock")
	ErrDishUnavailable   = errors.New("dish is not available")
	ErrNoRecipe          = errors.New("dish has no recipe")
)

// IngredientShortage describes one ingredient that blocks a reservation.
type IngredientShortage struct {
	IngredientID int32           `json:"ingredient_id"`
	Name         string          `json:"name"`
	Required     decimal.Decimal `json:"required"`
	Available    decimal.Decimal `json:"available"`
	Missing      decimal.Decimal `json:"missing"`
}

// CheckDishAvailability reports whether quantity servings of the dish can be
// cooked from raw stock. A missing stock row counts as zero on hand.
func CheckDishAvailability(db *gorm.DB, dishID int32, quantity int32) (bool, []IngredientShortage, error) {
	var recipe []models.DishIngredient
	if err := db.Where("dish_id = ?", dishID).
		Preload("Ingredient").
		Find(&recipe).Error; err != nil {
		return false, nil, err
	}

	qty := decimal.NewFromInt32(quantity)
	var shortages []IngredientShortage

	for _, line := range recipe {
		required := line.Quantity.Mul(qty)

		var stock models.IngredientStock
		err := db.Where("ingredient_id = ?", line.IngredientID).First(&stock).Error
		available := decimal.Zero
		if err == nil {
			available = stock.CurrentQuantity
		} else if err != gorm.ErrRecordNotFound {
			return false, nil, err
		}

		if available.LessThan(required) {
			name := ""
			if line.Ingredient != nil {
				name = line.Ingredient.Name
			}
			shortages = append(shortages, IngredientShortage{
				IngredientID: line.IngredientID,
				Name:         name,
				Required:     required,
				Available:    available,
				Missing:      required.Sub(available),
			})
		}
	}

	return len(shortages) == 0, shortages, nil
}

// ReserveDishIngredients decrements each recipe ingredient's stock by
// recipe quantity × servings and appends one usage history row per
// ingredient. Must run inside the caller's transaction; stock rows are
// locked for update so concurrent reservations serialize instead of
// overdrawing.
func ReserveDishIngredients(tx *gorm.DB, dish *models.Dish, quantity int32, performedBy *int64) error {
	var recipe []models.DishIngredient
	if err := tx.Where("dish_id = ?", dish.ID).Find(&recipe).Error; err != nil {
		return err
	}
	if len(recipe) == 0 {
		return ErrNoRecipe
	}

	qty := decimal.NewFromInt32(quantity)

	for _, line := range recipe {
		required := line.Quantity.Mul(qty)

		var stock models.IngredientStock
		if err := database.LockForUpdate(tx).
			Where("ingredient_id = ?", line.IngredientID).
			First(&stock).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrInsufficientStock
			}
			return err
		}

		if stock.CurrentQuantity.LessThan(required) {
			return ErrInsufficientStock
		}

		before := stock.CurrentQuantity
		stock.CurrentQuantity = before.Sub(required)

		if err := tx.Model(&models.IngredientStock{}).
			Where("id = ?", stock.ID).
			Update("current_quantity", stock.CurrentQuantity).Error; err != nil {
			return err
		}

		history := models.StockHistory{
			IngredientID:   line.IngredientID,
			OperationType:  models.StockOpUsage,
			QuantityChange: required.Neg(),
			QuantityBefore: before,
			QuantityAfter:  stock.CurrentQuantity,
			TotalCost:      ingredientUsageCost(tx, line.IngredientID, required),
			PerformedBy:    performedBy,
			Notes:          fmt.Sprintf("Used for cooking %s x%d", dish.Name, quantity),
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
	}

	return nil
}

// ReturnDishIngredients puts recipe ingredients back after a cancellation,
// appending one restock history row per ingredient. Must run inside the
// caller's transaction.
func ReturnDishIngredients(tx *gorm.DB, dish *models.Dish, quantity int32, performedBy *int64) error {
	var recipe []models.DishIngredient
	if err := tx.Where("dish_id = ?", dish.ID).Find(&recipe).Error; err != nil {
		return err
	}

	qty := decimal.NewFromInt32(quantity)

	for _, line := range recipe {
		returned := line.Quantity.Mul(qty)

		var stock models.IngredientStock
		if err := database.LockForUpdate(tx).
			Where("ingredient_id = ?", line.IngredientID).
			First(&stock).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				continue
			}
			return err
		}

		before := stock.CurrentQuantity
		stock.CurrentQuantity = before.Add(returned)

		if err := tx.Model(&models.IngredientStock{}).
			Where("id = ?", stock.ID).
			Update("current_quantity", stock.CurrentQuantity).Error; err != nil {
			return err
		}

		history := models.StockHistory{
			IngredientID:   line.IngredientID,
			OperationType:  models.StockOpRestock,
			QuantityChange: returned,
			QuantityBefore: before,
			QuantityAfter:  stock.CurrentQuantity,
			TotalCost:      decimal.Zero,
			PerformedBy:    performedBy,
			Notes:          fmt.Sprintf("Returned from cancelled %s x%d", dish.Name, quantity),
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
	}

	return nil
}

// ConsumePreparedUnits takes up to want ready-to-serve units of a dish,
// draining the oldest batches first, and returns how many it got. Rows are
// locked for update within the caller's transaction.
func ConsumePreparedUnits(tx *gorm.DB, dishID int32, want int32) (int32, error) {
	if want <= 0 {
		return 0, nil
	}

	var batches []models.PreparedDish
	if err := database.LockForUpdate(tx).
		Where("dish_id = ? AND quantity > 0", dishID).
		Order("prepared_at").
		Find(&batches).Error; err != nil {
		return 0, err
	}

	var taken int32
	for i := range batches {
		if taken >= want {
			break
		}
		take := want - taken
		if take > batches[i].Quantity {
			take = batches[i].Quantity
		}
		batches[i].Quantity -= take
		taken += take

		if err := tx.Model(&models.PreparedDish{}).
			Where("id = ?", batches[i].ID).
			Update("quantity", batches[i].Quantity).Error; err != nil {
			return taken, err
		}
	}

	return taken, nil
}

// RestorePreparedUnits puts units back after a cancellation, topping batches
// up to their max. Units that no batch can absorb are dropped.
func RestorePreparedUnits(tx *gorm.DB, dishID int32, quantity int32) error {
	if quantity <= 0 {
		return nil
	}

	var batches []models.PreparedDish
	if err := database.LockForUpdate(tx).
		Where("dish_id = ?", dishID).
		Order("prepared_at").
		Find(&batches).Error; err != nil {
		return err
	}

	remaining := quantity
	for i := range batches {
		if remaining <= 0 {
			break
		}
		room := batches[i].MaxQuantity - batches[i].Quantity
		if room <= 0 {
			continue
		}
		add := remaining
		if add > room {
			add = room
		}
		batches[i].Quantity += add
		remaining -= add

		if err := tx.Model(&models.PreparedDish{}).
			Where("id = ?", batches[i].ID).
			Update("quantity", batches[i].Quantity).Error; err != nil {
			return err
		}
	}

	return nil
}

// MaxAvailableQuantity is the number of servings orderable right now:
// prepared units on hand plus servings cookable from raw stock.
func MaxAvailableQuantity(db *gorm.DB, dishID int32) (int32, error) {
	var prepared int64
	if err := db.Model(&models.PreparedDish{}).
		Where("dish_id = ?", dishID).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&prepared).Error; err != nil {
		return 0, err
	}

	var recipe []models.DishIngredient
	if err := db.Where("dish_id = ?", dishID).Find(&recipe).Error; err != nil {
		return 0, err
	}

	cookable := int64(0)
	if len(recipe) > 0 {
		cookable = int64(1<<31 - 1)
		for _, line := range recipe {
			if line.Quantity.LessThanOrEqual(decimal.Zero) {
				continue
			}
			var stock models.IngredientStock
			err := db.Where("ingredient_id = ?", line.IngredientID).First(&stock).Error
			if err == gorm.ErrRecordNotFound {
				cookable = 0
				break
			} else if err != nil {
				return 0, err
			}
			servings := stock.CurrentQuantity.Div(line.Quantity).IntPart()
			if servings < cookable {
				cookable = servings
			}
		}
	}

	return int32(prepared + cookable), nil
}

func ingredientUsageCost(tx *gorm.DB, ingredientID int32, quantity decimal.Decimal) decimal.Decimal {
	var cost models.IngredientCost
	if err := tx.Where("ingredient_id = ?", ingredientID).First(&cost).Error; err != nil {
		return decimal.Zero
	}
	return cost.CalculateTotalCost(quantity)
}
