package types

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
)

// Mode is how a generation request is executed
type Mode string

const (
	ModeQueued      Mode = "queued"
	ModeSynchronous Mode = "synchronous"
)

// Subscription tiers. Unknown values are treated as TierFree.
const (
	TierFree    = "free"
	TierBasic   = "basic"
	TierPremium = "premium"
	TierPro     = "pro"
)

// NormalizeTier lowercases a tier and maps unknown values to TierFree.
func NormalizeTier(tier string) string {
	switch t := strings.ToLower(strings.TrimSpace(tier)); t {
	case TierBasic, TierPremium, TierPro:
		return t
	default:
		return TierFree
	}
}

// UserPreferences shape the generated recipe
type UserPreferences struct {
	DietaryRestrictions []string `json:"dietaryRestrictions,omitempty"`
	Allergens           []string `json:"allergens,omitempty"`
	Cuisines            []string `json:"cuisines,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

// Empty reports whether no preference is set.
func (p *UserPreferences) Empty() bool {
	return p == nil || (len(p.DietaryRestrictions) == 0 && len(p.Allergens) == 0 && len(p.Cuisines) == 0 && p.Notes == "")
}

// GenerationRequest identifies one generation attempt
type GenerationRequest struct {
	RequestID        string           `json:"requestId"`
	Query            string           `json:"query"`
	UserID           *uuid.UUID       `json:"userId,omitempty"`
	Save             bool             `json:"save"`
	SubscriptionTier string           `json:"subscriptionTier"`
	UserPreferences  *UserPreferences `json:"userPreferences,omitempty"`
	Mode             Mode             `json:"mode"`
	CreatedAt        time.Time        `json:"createdAt"`

	// Attempt and MaxAttempts are set by the worker on every claim
	Attempt     int `json:"-"`
	MaxAttempts int `json:"-"`
}

// RetryPending reports whether a failure with err will be attempted again
// by the queue.
func (r *GenerationRequest) RetryPending(err error) bool {
	return r.Mode == ModeQueued && err != nil && r.Attempt < r.MaxAttempts && apperrors.IsExternal(err)
}

// GenerationResult is what a completed pipeline run returns
type GenerationResult struct {
	Recipe         *RecipeDraft `json:"recipe"`
	Merged         bool         `json:"merged"`
	PersonalCopyID string       `json:"personalCopyId,omitempty"`
}
