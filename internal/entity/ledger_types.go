package entity

// EntryStatus tracks the lifecycle of a recorded transaction intent.
// Transitions are monotonic: recorded -> decoded -> confirmed. Decode and
// confirmation happen independently, so confirmed may be reached straight
// from recorded.
type EntryStatus string

const (
	StatusRecorded  EntryStatus = "recorded"
	StatusDecoded   EntryStatus = "decoded"
	StatusConfirmed EntryStatus = "confirmed"
)

// DecodedCall is a human-meaningful representation of a transaction intent.
type DecodedCall struct {
	Method    string   `json:"method,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Args      []string `json:"args,omitempty"`
	// Raw marks a best-effort fallback produced without ABI resolution.
	Raw bool `json:"raw,omitempty"`
}

// LedgerEntry is one recorded transaction intent. The ID is assigned locally
// at send time, before any network round trip.
type LedgerEntry struct {
	ID      uint64          `json:"id"`
	Call    TransactionCall `json:"call"`
	Decoded *DecodedCall    `json:"decoded,omitempty"`
	Status  EntryStatus     `json:"status"`
	// Hash is set once the fork backend confirms the send.
	Hash string `json:"hash,omitempty"`
}
