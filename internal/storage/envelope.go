package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/weeme/internal/model"
)

const (
	typeAccount       = "account"
	typeReports       = "reports"
	typeTrackingCodes = "tracking_codes"
	typePending       = "pending_sync"

	accountVersion = 2
	listVersion    = 1
)

// envelope tags every stored value with its record type and schema version.
// Values written before envelopes existed are bare JSON and read as version 1.
type envelope struct {
	Type    string          `json:"type"`
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

func wrap(typ string, version int, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", typ, err)
	}
	out, err := json.Marshal(envelope{Type: typ, Version: version, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal %s envelope: %w", typ, err)
	}
	return string(out), nil
}

// unwrap returns the payload and its version. Bare legacy values come back
// unchanged with version 1.
func unwrap(raw, typ string) (json.RawMessage, int, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 {
		return nil, 0, fmt.Errorf("empty %s value", typ)
	}
	if trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Type != "" && env.Data != nil {
			if env.Type != typ {
				return nil, 0, fmt.Errorf("record type %q, want %q", env.Type, typ)
			}
			return env.Data, env.Version, nil
		}
	}
	return trimmed, 1, nil
}

// legacyAccount is the version 1 shape: the same fields, but credits and
// tier could be missing.
type legacyAccount struct {
	ID         string  `json:"id"`
	Username   string  `json:"username"`
	Email      string  `json:"email"`
	Membership *string `json:"membershipType"`
	Credits    *int    `json:"credits"`
	CreatedAt  string  `json:"createdAt"`
}

func upgradeAccountV1(data []byte) (model.Account, error) {
	var la legacyAccount
	if err := json.Unmarshal(data, &la); err != nil {
		return model.Account{}, fmt.Errorf("decode legacy account: %w", err)
	}
	a := model.Account{
		ID:         la.ID,
		Username:   la.Username,
		Email:      la.Email,
		Membership: model.TierFree,
	}
	if la.Membership != nil {
		a.Membership = model.MembershipTier(*la.Membership)
	}
	if la.Credits != nil {
		a.Credits = *la.Credits
	}
	if la.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, la.CreatedAt); err == nil {
			a.CreatedAt = t
		}
	}
	return a, nil
}

func decodeAccount(raw string) (model.Account, error) {
	data, version, err := unwrap(raw, typeAccount)
	if err != nil {
		return model.Account{}, err
	}

	var a model.Account
	switch version {
	case 1:
		a, err = upgradeAccountV1(data)
		if err != nil {
			return model.Account{}, err
		}
	case accountVersion:
		if err := json.Unmarshal(data, &a); err != nil {
			return model.Account{}, fmt.Errorf("decode account: %w", err)
		}
	default:
		return model.Account{}, fmt.Errorf("unsupported account version %d", version)
	}

	return validateAccount(a)
}

func validateAccount(a model.Account) (model.Account, error) {
	a.ID = strings.TrimSpace(a.ID)
	a.Username = strings.TrimSpace(a.Username)
	if a.ID == "" {
		return model.Account{}, fmt.Errorf("account has no id")
	}
	if a.Username == "" {
		return model.Account{}, fmt.Errorf("account %s has no username", a.ID)
	}
	if a.Membership == "" {
		a.Membership = model.TierFree
	}
	if !a.Membership.Valid() {
		return model.Account{}, fmt.Errorf("account %s has unknown tier %q", a.ID, a.Membership)
	}
	a.Credits = model.ClampCredits(a.Credits)
	return a, nil
}

func encodeAccount(a model.Account) (string, error) {
	return wrap(typeAccount, accountVersion, a)
}

func decodeList[T any](raw, typ string) ([]T, error) {
	data, version, err := unwrap(raw, typ)
	if err != nil {
		return nil, err
	}
	if version > listVersion {
		return nil, fmt.Errorf("unsupported %s version %d", typ, version)
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", typ, err)
	}
	return items, nil
}
