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
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
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

func seedUser(t *testing.T, db *gorm.DB, balance string) *models.User {
	t.Helper()
	user := models.User{
		Username: "aliya",
		Email:    "aliya@example.com",
		Password: "hashed",
		Role:     models.RoleStudent,
		Balance:  decimal.RequireFromString(balance),
		IsActive: true,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return &user
}

func TestDebitBalance(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "500.00")

	var entry *models.Transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = DebitBalance(tx, user.ID, decimal.RequireFromString("161.00"), models.TxPayment, "Payment for order #1", nil)
		return err
	})
	if err != nil {
		t.Fatalf("DebitBalance: %v", err)
	}

	var got models.User
	db.First(&got, user.ID)
	if !got.Balance.Equal(decimal.RequireFromString("339.00")) {
		t.Errorf("balance = %s, want 339.00", got.Balance)
	}

	if !entry.Amount.Equal(decimal.RequireFromString("-161.00")) {
		t.Errorf("ledger amount = %s, want -161.00", entry.Amount)
	}
	if !entry.BalanceAfter.Equal(got.Balance) {
		t.Errorf("BalanceAfter = %s, want %s", entry.BalanceAfter, got.Balance)
	}
	if entry.TransactionType != models.TxPayment {
		t.Errorf("type = %s, want payment", entry.TransactionType)
	}
}

func TestDebitBalanceInsufficient(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "100.00")

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := DebitBalance(tx, user.ID, decimal.RequireFromString("100.01"), models.TxPayment, "too much", nil)
		return err
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	var got models.User
	db.First(&got, user.ID)
	if !got.Balance.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("balance after failed debit = %s, want 100.00", got.Balance)
	}
	var count int64
	db.Model(&models.Transaction{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no ledger rows, got %d", count)
	}
}

func TestDebitExactBalance(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "100.00")

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := DebitBalance(tx, user.ID, decimal.RequireFromString("100.00"), models.TxPayment, "all in", nil)
		return err
	})
	if err != nil {
		t.Fatalf("debit of the exact balance should pass: %v", err)
	}

	var got models.User
	db.First(&got, user.ID)
	if !got.Balance.Equal(decimal.Zero) {
		t.Errorf("balance = %s, want 0", got.Balance)
	}
}

func TestCreditBalance(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "10.50")

	var entry *models.Transaction
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = CreditBalance(tx, user.ID, decimal.RequireFromString("200.00"), models.TxDeposit, "Balance top-up", nil)
		return err
	})
	if err != nil {
		t.Fatalf("CreditBalance: %v", err)
	}

	var got models.User
	db.First(&got, user.ID)
	if !got.Balance.Equal(decimal.RequireFromString("210.50")) {
		t.Errorf("balance = %s, want 210.50", got.Balance)
	}
	if !entry.Amount.Equal(decimal.RequireFromString("200.00")) {
		t.Errorf("ledger amount = %s, want 200.00", entry.Amount)
	}
}

func TestRecordPayment(t *testing.T) {
	db := newTestDB(t)
	user := seedUser(t, db, "0")

	var payment *models.Payment
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = RecordPayment(tx, user.ID, nil, decimal.RequireFromString("161.00"), models.PayMethodBalance, "Payment for order #1")
		return err
	})
	if err != nil {
		t.Fatalf("RecordPayment: %v", err)
	}

	if payment.Status != models.PaymentPaid {
		t.Errorf("status = %s, want paid", payment.Status)
	}
	if payment.CompletedAt == nil {
		t.Error("completed payment should carry a completion time")
	}
}
