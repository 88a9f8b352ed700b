package model

import (
	"fmt"
	"strings"
	"time"
)

type MembershipTier string

const (
	TierFree     MembershipTier = "Free"
	TierPro      MembershipTier = "Pro"
	TierAdvanced MembershipTier = "Advanced"
)

// StartingCredits is the balance every new account receives.
const StartingCredits = 3

// ParseTier accepts the tier names case-insensitively.
func ParseTier(s string) (MembershipTier, error) {
	name := strings.TrimSpace(s)
	for _, t := range []MembershipTier{TierFree, TierPro, TierAdvanced} {
		if strings.EqualFold(name, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown membership tier %q", s)
}

func (t MembershipTier) Valid() bool {
	return t == TierFree || t == TierPro || t == TierAdvanced
}

// Metered reports whether scans consume credits under this tier.
func (t MembershipTier) Metered() bool {
	return t == TierFree
}

type Account struct {
	ID         string         `json:"id"`
	Username   string         `json:"username"`
	Email      string         `json:"email"`
	Membership MembershipTier `json:"membershipType"`
	Credits    int            `json:"credits"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// ClampCredits never lets a balance go below zero.
func ClampCredits(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// CanScan reports whether the account may start a scan right now.
func (a Account) CanScan() bool {
	return !a.Membership.Metered() || a.Credits > 0
}
