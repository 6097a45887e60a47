package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/rallypoint/rallypoint/internal/core/data"
)

var (
	ErrUnknown            = errors.New("an unexpected error occurred, please contact your server administrator")
	ErrInvalidCredentials = errors.New("name/password combination not found")
	ErrAccountBanned      = errors.New("this account has been suspended")
	ErrUsernameTaken      = errors.New("name already registered")
	ErrInvalidUsername    = errors.New("name must be 1-24 letters, digits, '-' or '_'")
	ErrInvalidPassword    = errors.New("password must be at least 6 characters")
)

var (
	policy     = bluemonday.StrictPolicy()
	namePolicy = regexp.MustCompile(`^[\p{L}\p{N}_-]{1,24}$`)
)

// SanitizeName strips any markup and surrounding whitespace from a
// client-supplied name.
func SanitizeName(name string) string {
	return strings.TrimSpace(policy.Sanitize(name))
}

// ValidateName reports whether a (sanitized) name is acceptable as an identity.
func ValidateName(name string) error {
	if !namePolicy.MatchString(name) {
		return ErrInvalidUsername
	}
	return nil
}

// Service verifies and registers credentialed identities against the account table.
type Service struct {
	logger *logrus.Logger

	findAccount   func(username string) (*data.Account, error)
	createAccount func(account *data.Account) error
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{
		logger: logger,
		findAccount: func(username string) (*data.Account, error) {
			return data.FindAccountByUsername(db, username)
		},
		createAccount: func(account *data.Account) error {
			return data.CreateAccount(db, account)
		},
	}
}

// VerifyAccount checks the account table for the specified credentials
// combination and validates that the account is accessible.
func (s *Service) VerifyAccount(username, password string) (*data.Account, error) {
	account, err := s.findAccount(username)
	if err != nil {
		s.logger.Warnf("error looking up account %s: %v", username, err)
		return nil, ErrUnknown
	}

	if account == nil || bcrypt.CompareHashAndPassword([]byte(account.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	} else if account.Banned {
		return nil, ErrAccountBanned
	}

	return account, nil
}

// RegisterAccount validates the requested credentials and creates a new account.
func (s *Service) RegisterAccount(username, password string) (*data.Account, error) {
	username = SanitizeName(username)
	if err := ValidateName(username); err != nil {
		return nil, err
	}
	if len(password) < 6 {
		return nil, ErrInvalidPassword
	}

	existing, err := s.findAccount(username)
	if err != nil {
		s.logger.Warnf("error looking up account %s: %v", username, err)
		return nil, ErrUnknown
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	account := &data.Account{Username: username, Password: hashed}
	if err := s.createAccount(account); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return account, nil
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
