package sender

// State is a stage in the life of one batch, from collection to its final
// disposition.
type State int

const (
	StateCollected State = iota
	StateSending
	StateDelivered
	StateRateLimited
	StateRetriesExhausted
	StateInterrupted
	StateCompressFailed
	StateEncodeFailed
	StateBufferFailed
	StateBuffered
	StateDropped
)

var stateNames = [...]string{
	StateCollected:        "collected",
	StateSending:          "sending",
	StateDelivered:        "delivered",
	StateRateLimited:      "rate_limited",
	StateRetriesExhausted: "retries_exhausted",
	StateInterrupted:      "interrupted",
	StateCompressFailed:   "compress_failed",
	StateEncodeFailed:     "encode_failed",
	StateBufferFailed:     "buffer_failed",
	StateBuffered:         "buffered",
	StateDropped:          "dropped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether s ends a Send or a resend.
func (s State) Terminal() bool {
	return s == StateDelivered || s == StateBuffered || s == StateDropped
}

// transitions lists the legal successors of each state. Buffered is terminal
// for one call but re-enters Sending when the buffer is drained.
var transitions = map[State][]State{
	StateCollected:        {StateSending, StateEncodeFailed, StateCompressFailed, StateDropped},
	StateSending:          {StateDelivered, StateRateLimited, StateRetriesExhausted, StateInterrupted},
	StateRateLimited:      {StateBuffered, StateBufferFailed},
	StateRetriesExhausted: {StateBuffered, StateBufferFailed},
	StateInterrupted:      {StateBuffered, StateBufferFailed},
	StateCompressFailed:   {StateBuffered, StateBufferFailed},
	StateEncodeFailed:     {StateDropped},
	StateBufferFailed:     {StateDropped},
	StateBuffered:         {StateSending, StateCompressFailed, StateDropped},
}

// CanTransition reports whether next may follow s.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Reasons attached to a Result that did not end in delivery.
const (
	ReasonEmpty            = "empty"
	ReasonEncodeFailed     = "encode_failed"
	ReasonInvalidPayload   = "invalid_payload"
	ReasonCompressFailed   = "compress_failed"
	ReasonRateLimited      = "rate_limited"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonInterrupted      = "interrupted"
	ReasonNoBuffer         = "no_buffer"
	ReasonBufferFailed     = "buffer_failed"
)
