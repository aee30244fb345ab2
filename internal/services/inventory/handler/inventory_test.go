package handler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"cafeteria-system/internal/database/models"
)

func seedStock(t *testing.T, db *gorm.DB, onHand string) models.Ingredient {
	t.Helper()
	ingredient := models.Ingredient{Name: "Milk", Unit: "ml"}
	if err := db.Create(&ingredient).Error; err != nil {
		t.Fatalf("create ingredient: %v", err)
	}
	stock := models.IngredientStock{
		IngredientID:    ingredient.ID,
		CurrentQuantity: decimal.RequireFromString(onHand),
		MinQuantity:     decimal.RequireFromString("10"),
		Unit:            "ml",
	}
	if err := db.Create(&stock).Error; err != nil {
		t.Fatalf("create stock: %v", err)
	}
	return ingredient
}

func postJSON(t *testing.T, router *gin.Engine, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRecordWasteClampsAtZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	ingredient := seedStock(t, db, "100")

	h := NewInventoryHandler(db, nil)
	router := gin.New()
	router.POST("/stock/waste", h.RecordWaste)

	// Wasting more than is on hand floors the quantity at zero.
	w := postJSON(t, router, "/stock/waste",
		fmt.Sprintf(`{"ingredient_id": %d, "quantity": 150}`, ingredient.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var stock models.IngredientStock
	if err := db.Where("ingredient_id = ?", ingredient.ID).First(&stock).Error; err != nil {
		t.Fatal(err)
	}
	if !stock.CurrentQuantity.Equal(decimal.Zero) {
		t.Errorf("quantity = %s, want 0", stock.CurrentQuantity)
	}

	// The ledger records the clamped delta, not the requested one.
	var row models.StockHistory
	if err := db.Where("operation_type = ?", models.StockOpWaste).First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if !row.QuantityChange.Equal(decimal.RequireFromString("-100")) {
		t.Errorf("quantity change = %s, want -100", row.QuantityChange)
	}
	if !row.QuantityAfter.Equal(decimal.Zero) {
		t.Errorf("quantity after = %s, want 0", row.QuantityAfter)
	}
	if !row.QuantityAfter.Equal(row.QuantityBefore.Add(row.QuantityChange)) {
		t.Errorf("ledger arithmetic broken: %s + %s != %s",
			row.QuantityBefore, row.QuantityChange, row.QuantityAfter)
	}
}

func TestAdjustStockClampsAtZero(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	ingredient := seedStock(t, db, "40")

	h := NewInventoryHandler(db, nil)
	router := gin.New()
	router.POST("/stock/adjust", h.AdjustStock)

	w := postJSON(t, router, "/stock/adjust",
		fmt.Sprintf(`{"ingredient_id": %d, "quantity": -75}`, ingredient.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var stock models.IngredientStock
	if err := db.Where("ingredient_id = ?", ingredient.ID).First(&stock).Error; err != nil {
		t.Fatal(err)
	}
	if !stock.CurrentQuantity.Equal(decimal.Zero) {
		t.Errorf("quantity = %s, want 0", stock.CurrentQuantity)
	}

	var row models.StockHistory
	if err := db.Where("operation_type = ?", models.StockOpAdjustment).First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if !row.QuantityChange.Equal(decimal.RequireFromString("-40")) {
		t.Errorf("quantity change = %s, want -40 (clamped)", row.QuantityChange)
	}
	if !row.QuantityAfter.Equal(row.QuantityBefore.Add(row.QuantityChange)) {
		t.Errorf("ledger arithmetic broken: %s + %s != %s",
			row.QuantityBefore, row.QuantityChange, row.QuantityAfter)
	}
}

func TestRestockMovesQuantityAndLedger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	ingredient := seedStock(t, db, "40")

	h := NewInventoryHandler(db, nil)
	router := gin.New()
	router.POST("/stock/restock", h.Restock)

	w := postJSON(t, router, "/stock/restock",
		fmt.Sprintf(`{"ingredient_id": %d, "quantity": 60}`, ingredient.ID))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var stock models.IngredientStock
	if err := db.Where("ingredient_id = ?", ingredient.ID).First(&stock).Error; err != nil {
		t.Fatal(err)
	}
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("100")) {
		t.Errorf("quantity = %s, want 100", stock.CurrentQuantity)
	}

	var row models.StockHistory
	if err := db.Where("operation_type = ?", models.StockOpRestock).First(&row).Error; err != nil {
		t.Fatal(err)
	}
	if !row.QuantityChange.Equal(decimal.RequireFromString("60")) {
		t.Errorf("quantity change = %s, want 60", row.QuantityChange)
	}
}
