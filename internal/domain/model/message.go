package model

// InboundMessage is one fetched mail message, reduced to the fields the
// intake rules look at.
type InboundMessage struct {
	// UID identifies the message within its mailbox for dedupe purposes.
	UID     string
	Sender  string
	Subject string
	Body    string
}

// SafetyVerdict is the outcome of a guardrail check. Reason is set only
// when Safe is false, except for fail-open results which carry the reason
// the check could not complete.
type SafetyVerdict struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason,omitempty"`
}
