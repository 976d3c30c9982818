package email

import "time"

// Result is the outcome of one send attempt. It is produced once and never
// mutated afterwards.
type Result struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"messageId,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Succeeded builds a successful result for provider.
func Succeeded(provider, messageID string) Result {
	return Result{
		Success:   true,
		MessageID: messageID,
		Provider:  provider,
		Timestamp: time.Now().UTC(),
	}
}

// Failed builds a failed result for provider from err.
func Failed(provider string, err error) Result {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result{
		Provider:  provider,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}
