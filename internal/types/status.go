package types

import "time"

// Status is the externally visible state of a generation request
type Status string

const (
	StatusProcessing Status = "processing"
	StatusActive     Status = "active"
	StatusWaiting    Status = "waiting"
	StatusDelayed    Status = "delayed"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusNotFound   Status = "not_found"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ProgressSnapshot is the partial state exposed to polling clients
type ProgressSnapshot struct {
	RequestID            string       `json:"requestId"`
	Draft                *RecipeDraft `json:"draft"`
	ProgressPercent      int          `json:"progressPercent"`
	IsPartial            bool         `json:"isPartial"`
	LastUpdatedStepIndex *int         `json:"lastUpdatedStepIndex,omitempty"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// TerminalMarker records how a run ended after its snapshot is removed
type TerminalMarker struct {
	Status   Status       `json:"status"`
	RecipeID string       `json:"recipeId,omitempty"`
	Recipe   *RecipeDraft `json:"recipe,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	At       time.Time    `json:"at"`
}

// StatusReport is the envelope returned by a status lookup
type StatusReport struct {
	RequestID          string       `json:"requestId"`
	Status             Status       `json:"status"`
	State              string       `json:"state,omitempty"`
	Progress           *int         `json:"progress,omitempty"`
	PartialRecipe      *RecipeDraft `json:"partialRecipe,omitempty"`
	Recipe             *RecipeDraft `json:"recipe,omitempty"`
	Reason             string       `json:"reason,omitempty"`
	PollingRecommended bool         `json:"pollingRecommended"`
}

// QueueHealth describes the background queue
type QueueHealth struct {
	QueueConfigured    bool             `json:"queueConfigured"`
	QueueConnected     bool             `json:"queueConnected"`
	IsQueueActive      bool             `json:"isQueueActive"`
	Counts             map[string]int64 `json:"counts"`
	PollingRecommended bool             `json:"pollingRecommended"`
}
