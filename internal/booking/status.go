package booking

// Status is a booking lifecycle state.
type Status string

const (
	StatusPending           Status = "pending"
	StatusConfirmed         Status = "confirmed"
	StatusDeviceReceived    Status = "device-received"
	StatusDiagnosis         Status = "diagnosis"
	StatusDiagnosisComplete Status = "diagnosis-complete"
	StatusQuotePending      Status = "quote-pending"
	StatusQuoteApproved     Status = "quote-approved"
	StatusQuoteRejected     Status = "quote-rejected"
	StatusRepairQueued      Status = "repair-queued"
	StatusRepairStarted     Status = "repair-started"
	StatusRepairProgress    Status = "repair-progress"
	StatusRepairComplete    Status = "repair-complete"
	StatusTesting           Status = "testing"
	StatusReadyPickup       Status = "ready-pickup"
	StatusDelivered         Status = "delivered"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusOnHold            Status = "on-hold"
)

// HappyPath is the forward sequence of statuses with non-decreasing progress.
var HappyPath = []Status{
	StatusPending,
	StatusConfirmed,
	StatusDeviceReceived,
	StatusDiagnosis,
	StatusDiagnosisComplete,
	StatusQuotePending,
	StatusQuoteApproved,
	StatusRepairQueued,
	StatusRepairStarted,
	StatusRepairProgress,
	StatusRepairComplete,
	StatusTesting,
	StatusReadyPickup,
	StatusDelivered,
	StatusCompleted,
}

var progressTable = map[Status]int{
	StatusPending:           5,
	StatusConfirmed:         10,
	StatusDeviceReceived:    20,
	StatusDiagnosis:         30,
	StatusDiagnosisComplete: 40,
	StatusQuotePending:      45,
	StatusQuoteApproved:     50,
	StatusRepairQueued:      55,
	StatusRepairStarted:     60,
	StatusRepairProgress:    70,
	StatusRepairComplete:    80,
	StatusTesting:           85,
	StatusReadyPickup:       95,
	StatusDelivered:         100,
	StatusCompleted:         100,
	StatusCancelled:         0,
	StatusQuoteRejected:     0,
	StatusOnHold:            0,
}

// CalculateProgress maps a status to a completion percentage. Cancelled,
// quote-rejected, on-hold and unknown statuses report 0.
func CalculateProgress(s Status) int {
	return progressTable[s]
}

// Known reports whether s is a recognized status.
func (s Status) Known() bool {
	_, ok := progressTable[s]
	return ok
}

// IsTerminal reports whether no further transitions are expected.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// AllowedTransitions lists the legal next statuses for each status.
var AllowedTransitions = map[Status][]Status{
	StatusPending:           {StatusConfirmed, StatusCancelled, StatusOnHold},
	StatusConfirmed:         {StatusDeviceReceived, StatusCancelled, StatusOnHold},
	StatusDeviceReceived:    {StatusDiagnosis, StatusCancelled, StatusOnHold},
	StatusDiagnosis:         {StatusDiagnosisComplete, StatusCancelled, StatusOnHold},
	StatusDiagnosisComplete: {StatusQuotePending, StatusRepairQueued, StatusCancelled, StatusOnHold},
	StatusQuotePending:      {StatusQuoteApproved, StatusQuoteRejected, StatusCancelled, StatusOnHold},
	StatusQuoteApproved:     {StatusRepairQueued, StatusCancelled, StatusOnHold},
	StatusQuoteRejected:     {StatusQuotePending, StatusReadyPickup, StatusCancelled},
	StatusRepairQueued:      {StatusRepairStarted, StatusCancelled, StatusOnHold},
	StatusRepairStarted:     {StatusRepairProgress, StatusRepairComplete, StatusOnHold},
	StatusRepairProgress:    {StatusRepairComplete, StatusOnHold},
	StatusRepairComplete:    {StatusTesting, StatusReadyPickup},
	StatusTesting:           {StatusReadyPickup, StatusRepairStarted, StatusOnHold},
	StatusReadyPickup:       {StatusDelivered, StatusCompleted},
	StatusDelivered:         {StatusCompleted},
}

// CanTransition reports whether moving from one status to another is legal.
// Repeating the current status is always allowed. on-hold may resume to any
// non-terminal happy-path status or be cancelled.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from == StatusOnHold {
		return to == StatusCancelled || (to.Known() && !to.IsTerminal() && to != StatusQuoteRejected)
	}
	for _, next := range AllowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
