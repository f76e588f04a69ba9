package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/failsafe/pkg/contracts"
)

const genesis = "genesis"

// Entry is one link of the in-memory hash chain.
type Entry struct {
	Sequence     uint64           `json:"sequence"`
	Record       contracts.Record `json:"record"`
	RecordHash   string           `json:"record_hash"`
	PreviousHash string           `json:"previous_hash"`
	EntryHash    string           `json:"entry_hash"`
}

// MemoryStore is a hash-chained in-process Store. Each entry commits to the
// canonical JSON of its record and to the previous entry.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   []*Entry
	byID      map[string]*Entry
	sequence  uint64
	chainHead string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:      make(map[string]*Entry),
		chainHead: genesis,
	}
}

func computeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// canonicalHash hashes the RFC 8785 canonical JSON form of v.
func canonicalHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	return computeHash(canon), nil
}

func entryHash(e *Entry) (string, error) {
	return canonicalHash(struct {
		Sequence     uint64 `json:"sequence"`
		HandoffID    string `json:"handoff_id"`
		RecordHash   string `json:"record_hash"`
		PreviousHash string `json:"previous_hash"`
	}{e.Sequence, e.Record.HandoffID, e.RecordHash, e.PreviousHash})
}

func (s *MemoryStore) Append(_ context.Context, rec contracts.Record) error {
	recordHash, err := canonicalHash(rec)
	if err != nil {
		return fmt.Errorf("failed to hash record %s: %w", rec.HandoffID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[rec.HandoffID]; dup {
		return fmt.Errorf("audit record %s already exists", rec.HandoffID)
	}

	e := &Entry{
		Sequence:     s.sequence + 1,
		Record:       rec,
		RecordHash:   recordHash,
		PreviousHash: s.chainHead,
	}
	if e.EntryHash, err = entryHash(e); err != nil {
		return fmt.Errorf("failed to compute entry hash: %w", err)
	}

	s.sequence = e.Sequence
	s.chainHead = e.EntryHash
	s.entries = append(s.entries, e)
	s.byID[rec.HandoffID] = e
	return nil
}

func (s *MemoryStore) Get(_ context.Context, handoffID string) (contracts.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[handoffID]
	if !ok {
		return contracts.Record{}, ErrRecordNotFound
	}
	return e.Record, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]contracts.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]contracts.Record, 0)
	for _, e := range s.entries {
		if !f.Matches(e.Record) {
			continue
		}
		out = append(out, e.Record)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ChainHead returns the hash of the newest entry, or "genesis".
func (s *MemoryStore) ChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of the chain.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = *e
	}
	return out
}

// VerifyChain recomputes every record and entry hash.
func (s *MemoryStore) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyEntries(s.entries)
}

func verifyEntries(entries []*Entry) error {
	expectedPrev := genesis
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s", ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		rh, err := canonicalHash(e.Record)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if rh != e.RecordHash {
			return fmt.Errorf("%w: entry %d record hash mismatch", ErrChainBroken, i)
		}
		eh, err := entryHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %w", ErrChainBroken, i, err)
		}
		if eh != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)", ErrChainBroken, i, eh, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}
