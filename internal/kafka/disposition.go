package kafka

// Disposition tells a consume loop what to do with a fetched message.
type Disposition int

const (
	// Ack commits the offset: the message was handled.
	Ack Disposition = iota
	// RejectNoRequeue commits the offset without handling: the message is
	// permanently bad and redelivery would fail the same way.
	RejectNoRequeue
	// Retry keeps the message unresolved: the consume loop reprocesses it
	// in place after a delay. Used for transient failures (database or
	// broker outages).
	Retry
)

// String returns the disposition name for logs.
func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case RejectNoRequeue:
		return "reject"
	case Retry:
		return "retry"
	default:
		return "unknown"
	}
}

// Commits reports whether the disposition commits the offset.
func (d Disposition) Commits() bool {
	return d == Ack || d == RejectNoRequeue
}
