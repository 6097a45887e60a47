package data

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gorm.io/gorm"
)

func seedRandomAccounts(t *testing.T, db *gorm.DB) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if err := CreateAccount(db, generateAccount(t)); err != nil {
			t.Fatalf("error seeding test account: %v", err)
		}
	}
}

func generateAccount(t *testing.T) *Account {
	t.Helper()
	return &Account{
		Username:         strconv.Itoa(rand.Int()),
		Password:         strconv.Itoa(rand.Int()),
		RegistrationDate: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func assertAccountsMatch(t *testing.T, expected *Account, got *Account) {
	t.Helper()
	if expected == nil && got == nil {
		return
	}

	if got != nil {
		got.DeletedAt = gorm.DeletedAt{}
	}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("account did not match expected; diff:\n%s", diff)
	}
}

func TestFindAccountByUsername(t *testing.T) {
	db := setUpDatabase(t)
	seedRandomAccounts(t, db)

	testAccount := generateAccount(t)
	tests := []struct {
		name     string
		seedData func(db *gorm.DB)
		want     *Account
		wantErr  bool
	}{
		{
			name:     "account does not exist",
			seedData: func(db *gorm.DB) {},
			want:     nil,
			wantErr:  false,
		},
		{
			name: "account exists",
			seedData: func(db *gorm.DB) {
				if err := CreateAccount(db, testAccount); err != nil {
					t.Fatalf("error creating test account data: %s", err)
				}
			},
			want:    testAccount,
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.seedData(db)

			account, err := FindAccountByUsername(db, testAccount.Username)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FindAccountByUsername() wantErr = %v, error = %v", tt.wantErr, err)
			}
			assertAccountsMatch(t, tt.want, account)
		})
	}
}

func TestCreateAccount_DuplicateUsername(t *testing.T) {
	db := setUpDatabase(t)

	account := generateAccount(t)
	if err := CreateAccount(db, account); err != nil {
		t.Fatalf("CreateAccount() returned an unexpected error: %v", err)
	}
	duplicate := &Account{Username: account.Username, Password: "other"}
	if err := CreateAccount(db, duplicate); err == nil {
		t.Fatal("expected CreateAccount() to reject a duplicate username")
	}
}

func TestFindUnscopedAccount(t *testing.T) {
	db := setUpDatabase(t)

	testAccount := generateAccount(t)
	if err := CreateAccount(db, testAccount); err != nil {
		t.Fatalf("error creating test account: %v", err)
	}

	// Account exists, but has been soft deleted.
	if err := DeleteAccount(db, testAccount); err != nil {
		t.Fatalf("error deleting test account: %s", err)
	}
	account, err := FindAccountByUsername(db, testAccount.Username)
	if err != nil {
		t.Fatalf("FindAccountByUsername() returned an unexpected error: %v", err)
	}
	if account != nil {
		t.Fatalf("FindAccountByUsername() returned a soft deleted account: %v", account)
	}

	account, err = FindUnscopedAccount(db, testAccount.Username)
	if err != nil {
		t.Fatalf("FindUnscopedAccount() returned an unexpected error: %v", err)
	}
	testAccount.DeletedAt = gorm.DeletedAt{}
	assertAccountsMatch(t, testAccount, account)
}
