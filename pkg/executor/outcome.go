package executor

// Outcome classifies how a handler invocation ended. None of them is an error to the caller.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeSoftTimeout Outcome = "soft_timeout"
	OutcomeNonZeroExit Outcome = "non_zero_exit"
	OutcomeHardKill    Outcome = "hard_kill"
)

// Event is what a handler receives.
type Event struct {
	MessageType   string
	Payload       string
	QueueKey      string
	CorrelationID string
}
