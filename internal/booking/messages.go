package booking

// Message is the customer-facing text for a status.
type Message struct {
	Title     string   `json:"title"`
	Body      string   `json:"message"`
	NextSteps []string `json:"nextSteps"`
}

var statusMessages = map[Status]Message{
	StatusPending: {
		Title:     "Booking received",
		Body:      "We have received your repair booking and will confirm it shortly.",
		NextSteps: []string{"Wait for our confirmation email"},
	},
	StatusConfirmed: {
		Title:     "Booking confirmed",
		Body:      "Your repair booking is confirmed.",
		NextSteps: []string{"Bring or send your device to the repair centre", "Back up your data if you can"},
	},
	StatusDeviceReceived: {
		Title:     "Device received",
		Body:      "Your device has arrived at our repair centre.",
		NextSteps: []string{"A technician will start the diagnosis soon"},
	},
	StatusDiagnosis: {
		Title:     "Diagnosis in progress",
		Body:      "A technician is examining your device.",
		NextSteps: []string{"We will send you the findings when the diagnosis is complete"},
	},
	StatusDiagnosisComplete: {
		Title:     "Diagnosis complete",
		Body:      "We have finished diagnosing your device.",
		NextSteps: []string{"Review the diagnosis report"},
	},
	StatusQuotePending: {
		Title:     "Quote ready for approval",
		Body:      "Your repair quote is waiting for your approval.",
		NextSteps: []string{"Approve or reject the quote"},
	},
	StatusQuoteApproved: {
		Title:     "Quote approved",
		Body:      "Thanks for approving the quote. Your repair will be scheduled.",
		NextSteps: []string{"We will queue your repair with the next available technician"},
	},
	StatusQuoteRejected: {
		Title:     "Quote rejected",
		Body:      "You rejected the repair quote. No repair work will be done.",
		NextSteps: []string{"Arrange to collect your device", "Contact us if you want a revised quote"},
	},
	StatusRepairQueued: {
		Title:     "Repair queued",
		Body:      "Your repair is in the queue.",
		NextSteps: []string{"A technician will start work soon"},
	},
	StatusRepairStarted: {
		Title:     "Repair started",
		Body:      "A technician has started repairing your device.",
		NextSteps: []string{"We will keep you updated on progress"},
	},
	StatusRepairProgress: {
		Title:     "Repair in progress",
		Body:      "Work on your device is under way.",
		NextSteps: []string{"We will let you know when the repair is finished"},
	},
	StatusRepairComplete: {
		Title:     "Repair complete",
		Body:      "The repair is finished and your device is going through quality checks.",
		NextSteps: []string{"Wait for testing to complete"},
	},
	StatusTesting: {
		Title:     "Quality testing",
		Body:      "We are testing your device to make sure everything works.",
		NextSteps: []string{"We will notify you when it is ready for pickup"},
	},
	StatusReadyPickup: {
		Title:     "Ready for pickup",
		Body:      "Your device is repaired and ready to collect.",
		NextSteps: []string{"Collect your device during opening hours", "Bring your booking reference"},
	},
	StatusDelivered: {
		Title:     "Delivered",
		Body:      "Your device has been returned to you.",
		NextSteps: []string{"Let us know how we did"},
	},
	StatusCompleted: {
		Title:     "Repair completed",
		Body:      "Your repair booking is complete. Thank you!",
		NextSteps: []string{"Leave a review"},
	},
	StatusCancelled: {
		Title:     "Booking cancelled",
		Body:      "Your repair booking has been cancelled.",
		NextSteps: []string{"Contact support if this was unexpected"},
	},
	StatusOnHold: {
		Title:     "Repair on hold",
		Body:      "Your repair is on hold. We may need more information from you.",
		NextSteps: []string{"Check your messages for a request from our team"},
	},
}

// StatusMessage returns the customer-facing message for s.
func StatusMessage(s Status) Message {
	if m, ok := statusMessages[s]; ok {
		m.NextSteps = append([]string(nil), m.NextSteps...)
		return m
	}
	return Message{
		Title:     "Booking updated",
		Body:      "Your booking status changed to " + string(s) + ".",
		NextSteps: []string{},
	}
}
