// Package billing sells credit packs and membership upgrades. Payment is
// simulated: a purchase is applied to the account immediately.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/weeme/internal/model"
)

var (
	ErrUnknownPackage   = errors.New("unknown package")
	ErrNotAuthenticated = errors.New("sign in to purchase")
)

// CreditPackSize is how many credits the credits package adds.
const CreditPackSize = 50

type Package struct {
	Key         string               `json:"key"`
	Title       string               `json:"title"`
	Price       string               `json:"price"`
	Description string               `json:"description"`
	Credits     int                  `json:"credits,omitempty"`
	Tier        model.MembershipTier `json:"tier,omitempty"`
}

var packages = []Package{
	{
		Key:         "credits",
		Title:       "50 Credit Pack",
		Price:       "₺29.99",
		Description: "Adds 50 credits to a Free membership.",
		Credits:     CreditPackSize,
	},
	{
		Key:         "pro",
		Title:       "Pro Membership",
		Price:       "₺99.99",
		Description: "Unlimited SEO scans and AI suggestions.",
		Tier:        model.TierPro,
	},
	{
		Key:         "advanced",
		Title:       "Advanced Membership",
		Price:       "₺199.99",
		Description: "Everything in Pro plus AI content generation.",
		Tier:        model.TierAdvanced,
	},
}

// Packages lists what can be bought.
func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

// Lookup finds a package by key, case-insensitively.
func Lookup(key string) (Package, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, p := range packages {
		if p.Key == key {
			return p, nil
		}
	}
	return Package{}, fmt.Errorf("%w: %q", ErrUnknownPackage, key)
}

// Accounts is the signed-in account being charged.
type Accounts interface {
	Current() (model.Account, bool)
	AddCredits(ctx context.Context, delta int) error
	UpgradeMembership(ctx context.Context, tier model.MembershipTier) error
	RefreshUser(ctx context.Context) error
}

type Service struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewService(accounts Accounts, logger *slog.Logger) *Service {
	return &Service{accounts: accounts, logger: logger}
}

// Purchase applies package key to the signed-in account and returns the
// updated account.
func (s *Service) Purchase(ctx context.Context, key string) (model.Account, error) {
	pkg, err := Lookup(key)
	if err != nil {
		return model.Account{}, err
	}
	acct, ok := s.accounts.Current()
	if !ok {
		return model.Account{}, ErrNotAuthenticated
	}

	if pkg.Credits > 0 {
		if err := s.accounts.AddCredits(ctx, pkg.Credits); err != nil {
			return model.Account{}, fmt.Errorf("purchase %s: %w", pkg.Key, err)
		}
	}
	if pkg.Tier != "" {
		if err := s.accounts.UpgradeMembership(ctx, pkg.Tier); err != nil {
			return model.Account{}, fmt.Errorf("purchase %s: %w", pkg.Key, err)
		}
	}
	if err := s.accounts.RefreshUser(ctx); err != nil {
		return model.Account{}, fmt.Errorf("refresh after purchase: %w", err)
	}

	updated, _ := s.accounts.Current()
	s.logger.Info("purchase applied", "user_id", acct.ID, "package", pkg.Key,
		"membership", updated.Membership, "credits", updated.Credits)
	return updated, nil
}
