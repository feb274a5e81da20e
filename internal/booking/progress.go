package booking

import (
	"context"
	"time"
)

// StatusUpdate is one entry in a booking's status history.
type StatusUpdate struct {
	BookingID string    `json:"bookingId"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updatedBy,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	NextSteps []string  `json:"nextSteps,omitempty"`
}

// Milestone marks a key happy-path status on the progress timeline.
type Milestone struct {
	Status      Status     `json:"status"`
	Title       string     `json:"title"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Progress is the authoritative view of a booking at a point in time.
type Progress struct {
	BookingID           string         `json:"bookingId"`
	Status              Status         `json:"status"`
	History             []StatusUpdate `json:"history"`
	Percentage          int            `json:"percentage"`
	Milestones          []Milestone    `json:"milestones"`
	NextSteps           []string       `json:"nextSteps"`
	EstimatedCompletion *time.Time     `json:"estimatedCompletion,omitempty"`
	// Degraded is set when the progress store was unreachable and the view was
	// built from the push update alone.
	Degraded bool `json:"degraded,omitempty"`
}

// MessageAction is a button offered with a customer message.
type MessageAction struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// CustomerMessage is a message from the repair shop to the customer.
type CustomerMessage struct {
	ID        string          `json:"id"`
	BookingID string          `json:"bookingId"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	CreatedAt time.Time       `json:"createdAt"`
	Read      bool            `json:"read"`
	Actions   []MessageAction `json:"actions,omitempty"`
}

// ProgressStore returns the current progress of a booking.
type ProgressStore interface {
	Progress(ctx context.Context, bookingID string) (Progress, error)
}

var milestoneStatuses = []Status{
	StatusConfirmed,
	StatusDiagnosisComplete,
	StatusQuoteApproved,
	StatusRepairComplete,
	StatusReadyPickup,
	StatusCompleted,
}

// BuildProgress derives a progress view from a status history ordered oldest first.
func BuildProgress(bookingID string, history []StatusUpdate) Progress {
	p := Progress{
		BookingID: bookingID,
		Status:    StatusPending,
		History:   history,
		NextSteps: []string{},
	}
	if len(history) > 0 {
		p.Status = history[len(history)-1].Status
	}
	p.Percentage = CalculateProgress(p.Status)

	reached := make(map[Status]time.Time, len(history))
	for _, u := range history {
		if _, seen := reached[u.Status]; !seen {
			reached[u.Status] = u.Timestamp
		}
	}
	for _, s := range milestoneStatuses {
		m := Milestone{Status: s, Title: StatusMessage(s).Title}
		if at, ok := reached[s]; ok {
			m.Completed = true
			m.CompletedAt = &at
		} else if CalculateProgress(s) <= p.Percentage && p.Percentage > 0 {
			m.Completed = true
		}
		p.Milestones = append(p.Milestones, m)
	}

	if len(history) > 0 && len(history[len(history)-1].NextSteps) > 0 {
		p.NextSteps = history[len(history)-1].NextSteps
	} else {
		p.NextSteps = StatusMessage(p.Status).NextSteps
	}
	return p
}

// normalize recomputes the derived fields so every view reports the same percentage.
func (p Progress) normalize(bookingID string) Progress {
	if p.BookingID == "" {
		p.BookingID = bookingID
	}
	if p.Status == "" && len(p.History) > 0 {
		p.Status = p.History[len(p.History)-1].Status
	}
	p.Percentage = CalculateProgress(p.Status)
	if p.NextSteps == nil {
		p.NextSteps = StatusMessage(p.Status).NextSteps
	}
	return p
}
