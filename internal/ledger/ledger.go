package ledger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"forkpilot/internal/entity"
	"forkpilot/internal/pkg/apperrors"
)

// Ledger is the ordered, append-only record of submitted transaction
// intents. Insertion order is the serialization order of the final batch.
// Entries live for one session and are dropped wholesale on clear or
// reset, so growth is never bounded.
type Ledger struct {
	mu        sync.Mutex
	entries   []*entity.LedgerEntry
	index     map[uint64]*entity.LedgerEntry
	nextID    uint64
	submitted int
	logger    *zap.Logger
}

func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		index:  make(map[uint64]*entity.LedgerEntry),
		logger: logger.Named("Ledger"),
	}
}

// Append records a new intent with a locally assigned, strictly increasing
// id and returns a snapshot of the entry.
func (l *Ledger) Append(call entity.TransactionCall, fastDecoded *entity.DecodedCall) entity.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &entity.LedgerEntry{
		ID:      l.nextID,
		Call:    call,
		Decoded: fastDecoded,
		Status:  entity.StatusRecorded,
	}
	l.nextID++
	l.entries = append(l.entries, entry)
	l.index[entry.ID] = entry
	l.logger.Debug("Appended ledger entry", zap.Uint64("id", entry.ID))
	return *entry
}

// SetDecoded replaces an entry's decoded representation with the fully
// resolved one. Status moves to decoded only from recorded; a confirmed
// entry keeps its status and just finishes decoding in place.
func (l *Ledger) SetDecoded(id uint64, decoded *entity.DecodedCall) (entity.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.index[id]
	if !ok {
		return entity.LedgerEntry{}, fmt.Errorf("%w: ledger entry %d", apperrors.ErrNotFound, id)
	}
	entry.Decoded = decoded
	if entry.Status == entity.StatusRecorded {
		entry.Status = entity.StatusDecoded
	}
	return *entry, nil
}

// Confirm attaches the on-chain transaction hash and marks the entry
// confirmed. Confirmation may arrive before decoding completes.
func (l *Ledger) Confirm(id uint64, hash string) (entity.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.index[id]
	if !ok {
		return entity.LedgerEntry{}, fmt.Errorf("%w: ledger entry %d", apperrors.ErrNotFound, id)
	}
	entry.Hash = hash
	entry.Status = entity.StatusConfirmed
	return *entry, nil
}

// Remove deletes an entry by id.
func (l *Ledger) Remove(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[id]; !ok {
		return fmt.Errorf("%w: ledger entry %d", apperrors.ErrNotFound, id)
	}
	delete(l.index, id)
	for i, entry := range l.entries {
		if entry.ID == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			if i < l.submitted {
				l.submitted--
			}
			break
		}
	}
	return nil
}

// All returns snapshots of every entry in insertion order.
func (l *Ledger) All() []entity.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot(l.entries)
}

// Unsubmitted returns the suffix of entries not yet batched on-chain.
func (l *Ledger) Unsubmitted() []entity.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshot(l.entries[l.submitted:])
}

// MarkSubmitted moves the unsubmitted boundary past every current entry,
// after the batch they were collapsed into has been sent.
func (l *Ledger) MarkSubmitted() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = len(l.entries)
}

// Clear drops every entry. Ids keep increasing across clears.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.index = make(map[uint64]*entity.LedgerEntry)
	l.submitted = 0
	l.logger.Debug("Cleared ledger")
}

// Len returns the number of recorded entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) snapshot(entries []*entity.LedgerEntry) []entity.LedgerEntry {
	out := make([]entity.LedgerEntry, len(entries))
	for i, entry := range entries {
		out[i] = *entry
	}
	return out
}
