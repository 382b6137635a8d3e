package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

type HistoryID string

// NewHistoryID generates a new unique HistoryID
func NewHistoryID() HistoryID {
	return HistoryID(uuid.New().String())
}

// imageOnlyLabel is shown for archived requests that carried no text
const imageOnlyLabel = "Image only request"

// HistoryItem is an archived refinement. Attached images are not kept, only the
// original text request and the generated output.
type HistoryItem struct {
	ID             HistoryID `json:"id"`
	OriginalPrompt string    `json:"originalPrompt"`
	RefinedPrompt  string    `json:"refinedPrompt"`
	Timestamp      int64     `json:"timestamp"` // epoch milliseconds
}

// NewHistoryItem creates an item with a fresh ID stamped at now
func NewHistoryItem(originalPrompt, refinedPrompt string, now time.Time) *HistoryItem {
	return &HistoryItem{
		ID:             NewHistoryID(),
		OriginalPrompt: originalPrompt,
		RefinedPrompt:  refinedPrompt,
		Timestamp:      now.UnixMilli(),
	}
}

// CreatedAt returns Timestamp as time.Time
func (h *HistoryItem) CreatedAt() time.Time {
	return time.UnixMilli(h.Timestamp)
}

// Label returns the text used to list the item
func (h *HistoryItem) Label() string {
	if h.OriginalPrompt == "" {
		return imageOnlyLabel
	}
	return h.OriginalPrompt
}

// Validate checks if the item can be kept in a history log
func (h *HistoryItem) Validate() error {
	if h.ID == "" {
		return goerr.New("history item ID is empty")
	}
	if h.Timestamp < 0 {
		return goerr.New("history item timestamp is negative", goerr.V("id", h.ID), goerr.V("timestamp", h.Timestamp))
	}
	return nil
}
