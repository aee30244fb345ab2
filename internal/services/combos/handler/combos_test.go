package handler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cafeteria-system/internal/database"
	"cafeteria-system/internal/database/models"
	billing "cafeteria-system/internal/services/billing/handler"
	orders "cafeteria-system/internal/services/orders/handler"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:combos_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	user *models.User
	dish *models.Dish
	rice models.Ingredient
}

// newFixture seeds a student with balance 1000.00 and a dish at 80.50 whose
// recipe takes 100g of rice per serving, with 2000g on hand.
func newFixture(t *testing.T, db *gorm.DB) fixture {
	t.Helper()

	user := models.User{
		Username: "dimash",
		Email:    "dimash@example.com",
		Password: "hashed",
		Role:     models.RoleStudent,
		Balance:  decimal.RequireFromString("1000.00"),
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatal(err)
	}

	category := models.Category{Name: "Mains"}
	if err := db.Create(&category).Error; err != nil {
		t.Fatal(err)
	}

	dish := models.Dish{
		Name:        "Lagman",
		Price:       decimal.RequireFromString("80.50"),
		CategoryID:  category.ID,
		IsAvailable: true,
	}
	if err := db.Create(&dish).Error; err != nil {
		t.Fatal(err)
	}

	rice := models.Ingredient{Name: "Noodles", Unit: "g"}
	if err := db.Create(&rice).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&models.DishIngredient{
		DishID:       dish.ID,
		IngredientID: rice.ID,
		Quantity:     decimal.RequireFromString("100"),
	}).Error; err != nil {
		t.Fatal(err)
	}
	if err := db.Create(&models.IngredientStock{
		IngredientID:    rice.ID,
		CurrentQuantity: decimal.RequireFromString("2000"),
		MinQuantity:     decimal.RequireFromString("100"),
		Unit:            "g",
	}).Error; err != nil {
		t.Fatal(err)
	}

	return fixture{user: &user, dish: &dish, rice: rice}
}

func TestCreateComboSetChargesUpFront(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 1}}
	combo, err := CreateComboSet(db, fx.user.ID, "Lunch week", "", 5, lines)
	if err != nil {
		t.Fatalf("CreateComboSet: %v", err)
	}

	// Per redemption 80.50, prepaid for 5 orders.
	if !combo.TotalPrice.Equal(decimal.RequireFromString("80.50")) {
		t.Errorf("per-order price = %s, want 80.50", combo.TotalPrice)
	}
	if !combo.TotalPaid().Equal(decimal.RequireFromString("402.50")) {
		t.Errorf("total paid = %s, want 402.50", combo.TotalPaid())
	}

	var user models.User
	db.First(&user, fx.user.ID)
	if !user.Balance.Equal(decimal.RequireFromString("597.50")) {
		t.Errorf("balance = %s, want 597.50", user.Balance)
	}

	// No stock moves at creation; reservations happen per redemption.
	var stock models.IngredientStock
	db.Where("ingredient_id = ?", fx.rice.ID).First(&stock)
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("2000")) {
		t.Errorf("stock = %s, want 2000 (untouched)", stock.CurrentQuantity)
	}

	var items []models.ComboItem
	db.Where("combo_set_id = ?", combo.ID).Find(&items)
	if len(items) != 1 {
		t.Errorf("combo items = %d, want 1", len(items))
	}
}

func TestCreateComboSetInsufficientBalance(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	// 80.50 x 20 = 1610.00 > 1000.00.
	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 1}}
	_, err := CreateComboSet(db, fx.user.ID, "Too big", "", 20, lines)
	if !errors.Is(err, billing.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	var count int64
	db.Model(&models.ComboSet{}).Count(&count)
	if count != 0 {
		t.Errorf("combo sets after rollback = %d, want 0", count)
	}
	var user models.User
	db.First(&user, fx.user.ID)
	if !user.Balance.Equal(decimal.RequireFromString("1000.00")) {
		t.Errorf("balance after rollback = %s, want 1000.00", user.Balance)
	}
}

func TestRedeemCombo(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 2}}
	combo, err := CreateComboSet(db, fx.user.ID, "Lunch", "", 3, lines)
	if err != nil {
		t.Fatal(err)
	}

	balanceBefore := decimal.RequireFromString("517.00") // 1000 - 2x80.50x3

	comboOrder, err := RedeemCombo(db, combo.ID, fx.user.ID)
	if err != nil {
		t.Fatalf("RedeemCombo: %v", err)
	}

	if comboOrder.Status != models.ComboOrderPreparing {
		t.Errorf("status = %s, want preparing", comboOrder.Status)
	}
	if comboOrder.MainOrderID == nil {
		t.Fatal("redemption should issue a backing order")
	}

	// Usage counter moved, set still active.
	var got models.ComboSet
	db.First(&got, combo.ID)
	if got.OrdersUsed != 1 {
		t.Errorf("orders used = %d, want 1", got.OrdersUsed)
	}
	if !got.IsActive {
		t.Error("set with redemptions left should stay active")
	}

	// Backing order is hidden from the customer's regular order list.
	var mainOrder models.Order
	db.First(&mainOrder, *comboOrder.MainOrderID)
	if mainOrder.IsVisibleToCustomer {
		t.Error("backing order should be hidden")
	}
	if !mainOrder.TotalPrice.Equal(decimal.RequireFromString("161.00")) {
		t.Errorf("backing order total = %s, want 161.00", mainOrder.TotalPrice)
	}

	// Stock reserved: 2 servings x 100g.
	var stock models.IngredientStock
	db.Where("ingredient_id = ?", fx.rice.ID).First(&stock)
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("1800")) {
		t.Errorf("stock = %s, want 1800", stock.CurrentQuantity)
	}

	// No second charge: the set was prepaid.
	var user models.User
	db.First(&user, fx.user.ID)
	if !user.Balance.Equal(balanceBefore) {
		t.Errorf("balance = %s, want %s (no charge on redemption)", user.Balance, balanceBefore)
	}
}

func TestRedeemComboExhausted(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 1}}
	combo, err := CreateComboSet(db, fx.user.ID, "One shot", "", 1, lines)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := RedeemCombo(db, combo.ID, fx.user.ID); err != nil {
		t.Fatal(err)
	}

	// The single redemption deactivates the set.
	var got models.ComboSet
	db.First(&got, combo.ID)
	if got.IsActive {
		t.Error("fully used set should be inactive")
	}
	if got.RemainingOrders() != 0 {
		t.Errorf("remaining = %d, want 0", got.RemainingOrders())
	}

	_, err = RedeemCombo(db, combo.ID, fx.user.ID)
	if !errors.Is(err, ErrComboExhausted) {
		t.Fatalf("expected ErrComboExhausted, got %v", err)
	}
}

func TestRedeemComboWrongOwner(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 1}}
	combo, err := CreateComboSet(db, fx.user.ID, "Mine", "", 2, lines)
	if err != nil {
		t.Fatal(err)
	}

	_, err = RedeemCombo(db, combo.ID, fx.user.ID+1)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for another user, got %v", err)
	}
}

func TestCancelComboRedemption(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 2}}
	combo, err := CreateComboSet(db, fx.user.ID, "Lunch", "", 2, lines)
	if err != nil {
		t.Fatal(err)
	}
	comboOrder, err := RedeemCombo(db, combo.ID, fx.user.ID)
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := CancelComboRedemption(db, comboOrder.ID, fx.user.ID, false)
	if err != nil {
		t.Fatalf("CancelComboRedemption: %v", err)
	}
	if cancelled.Status != models.ComboOrderCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// Redemption released back to the set.
	var got models.ComboSet
	db.First(&got, combo.ID)
	if got.OrdersUsed != 0 {
		t.Errorf("orders used = %d, want 0", got.OrdersUsed)
	}
	if !got.IsActive {
		t.Error("set should be active again")
	}

	// Stock returned.
	var stock models.IngredientStock
	db.Where("ingredient_id = ?", fx.rice.ID).First(&stock)
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("2000")) {
		t.Errorf("stock = %s, want 2000", stock.CurrentQuantity)
	}

	// Backing order cancelled too.
	var mainOrder models.Order
	db.First(&mainOrder, *comboOrder.MainOrderID)
	if mainOrder.Status != models.OrderCancelled {
		t.Errorf("backing order status = %s, want cancelled", mainOrder.Status)
	}

	// No refund on redemption cancel; the prepayment stays with the set.
	var refunds int64
	db.Model(&models.Transaction{}).
		Where("transaction_type = ?", models.TxRefund).
		Count(&refunds)
	if refunds != 0 {
		t.Errorf("refund rows = %d, want 0", refunds)
	}
}

func TestBackingOrderCannotBeCancelledDirectly(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 2}}
	combo, err := CreateComboSet(db, fx.user.ID, "Lunch", "", 2, lines)
	if err != nil {
		t.Fatal(err)
	}
	comboOrder, err := RedeemCombo(db, combo.ID, fx.user.ID)
	if err != nil {
		t.Fatal(err)
	}

	// 1000 - 2x80.50x2 prepaid; redemption charges nothing.
	balanceAfterRedeem := decimal.RequireFromString("678.00")

	// The regular cancel path must not touch a combo's backing order,
	// neither for the customer nor for staff.
	_, err = orders.CancelOrder(db, *comboOrder.MainOrderID, fx.user.ID, false)
	if !errors.Is(err, orders.ErrOrderNotCancellable) {
		t.Fatalf("customer cancel of backing order: got %v, want ErrOrderNotCancellable", err)
	}
	_, err = orders.CancelOrder(db, *comboOrder.MainOrderID, fx.user.ID, true)
	if !errors.Is(err, orders.ErrOrderNotCancellable) {
		t.Fatalf("staff cancel of backing order: got %v, want ErrOrderNotCancellable", err)
	}

	// No refund leaked, no stock restored.
	var user models.User
	db.First(&user, fx.user.ID)
	if !user.Balance.Equal(balanceAfterRedeem) {
		t.Errorf("balance = %s, want %s (no refund)", user.Balance, balanceAfterRedeem)
	}
	var stock models.IngredientStock
	db.Where("ingredient_id = ?", fx.rice.ID).First(&stock)
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("1800")) {
		t.Errorf("stock = %s, want 1800 (still reserved)", stock.CurrentQuantity)
	}

	// The combo path still compensates exactly once.
	if _, err := CancelComboRedemption(db, comboOrder.ID, fx.user.ID, false); err != nil {
		t.Fatal(err)
	}
	db.Where("ingredient_id = ?", fx.rice.ID).First(&stock)
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("2000")) {
		t.Errorf("stock after combo cancel = %s, want 2000 (restored once)", stock.CurrentQuantity)
	}
	db.First(&user, fx.user.ID)
	if !user.Balance.Equal(balanceAfterRedeem) {
		t.Errorf("balance after combo cancel = %s, want %s (prepayment stays with the set)",
			user.Balance, balanceAfterRedeem)
	}
}

func TestCancelComboRedemptionSkipsCancelledBackingOrder(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 2}}
	combo, err := CreateComboSet(db, fx.user.ID, "Lunch", "", 2, lines)
	if err != nil {
		t.Fatal(err)
	}
	comboOrder, err := RedeemCombo(db, combo.ID, fx.user.ID)
	if err != nil {
		t.Fatal(err)
	}

	// A backing order already in cancelled state has been compensated;
	// cancelling the redemption must not restore stock a second time.
	db.Model(&models.Order{}).Where("id = ?", *comboOrder.MainOrderID).
		Update("status", models.OrderCancelled)

	if _, err := CancelComboRedemption(db, comboOrder.ID, fx.user.ID, false); err != nil {
		t.Fatal(err)
	}

	var stock models.IngredientStock
	db.Where("ingredient_id = ?", fx.rice.ID).First(&stock)
	if !stock.CurrentQuantity.Equal(decimal.RequireFromString("1800")) {
		t.Errorf("stock = %s, want 1800 (no second restore)", stock.CurrentQuantity)
	}

	// The redemption itself is still released.
	var got models.ComboSet
	db.First(&got, combo.ID)
	if got.OrdersUsed != 0 {
		t.Errorf("orders used = %d, want 0", got.OrdersUsed)
	}
}

func TestCancelComboRedemptionTooLate(t *testing.T) {
	db := newTestDB(t)
	fx := newFixture(t, db)

	lines := []orders.CartLine{{DishID: fx.dish.ID, Quantity: 1}}
	combo, err := CreateComboSet(db, fx.user.ID, "Lunch", "", 2, lines)
	if err != nil {
		t.Fatal(err)
	}
	comboOrder, err := RedeemCombo(db, combo.ID, fx.user.ID)
	if err != nil {
		t.Fatal(err)
	}

	db.Model(&models.ComboOrder{}).Where("id = ?", comboOrder.ID).
		Update("status", models.ComboOrderReady)

	_, err = CancelComboRedemption(db, comboOrder.ID, fx.user.ID, false)
	if !errors.Is(err, ErrComboNotCancellable) {
		t.Fatalf("expected ErrComboNotCancellable, got %v", err)
	}
}

func TestComboTransitionAllowed(t *testing.T) {
	if !comboTransitionAllowed(models.ComboOrderPreparing, models.ComboOrderReady) {
		t.Error("preparing -> ready should be allowed")
	}
	if !comboTransitionAllowed(models.ComboOrderReady, models.ComboOrderPickedUp) {
		t.Error("ready -> picked_up should be allowed")
	}
	if comboTransitionAllowed(models.ComboOrderPreparing, models.ComboOrderPickedUp) {
		t.Error("skipping ready should not be allowed")
	}
	if comboTransitionAllowed(models.ComboOrderPickedUp, models.ComboOrderReady) {
		t.Error("going backwards should not be allowed")
	}
}
