package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quasi-board/quasi-board/pkg/canon"
)

const (
	ledgerFileName  = "ledger.jsonl"
	timestampLayout = "2006-01-02T15:04:05.000000Z"

	// MaxSlots is the informational completion-count ceiling used to report
	// slotsRemaining.
	MaxSlots = 50
)

// FormatTimestamp renders t as RFC3339 UTC with microsecond precision, the
// ledger's wire timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a ledger timestamp. time.RFC3339 is used for
// parsing (not formatting) because Go's parser accepts any fractional
// second precision against that layout, so both whole-second timestamps
// and microsecond-precision ones round-trip correctly.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithLogger overrides the default bracketed logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is the append-only, hash-chained ledger engine. All mutation
// passes through mu held exclusively; reads may proceed concurrently under
// the reader lock.
type Store struct {
	mu       sync.RWMutex
	dir      string
	path     string
	claimTTL time.Duration
	entries  []Entry
	idx      *Index
	logger   *log.Logger
}

// NewStore opens (or creates) the ledger at dataDir/ledger.jsonl, loading
// existing entries and writing a genesis entry if the directory is empty.
// The accelerator index is opened alongside and rebuilt from the log.
func NewStore(dataDir string, claimTTL time.Duration, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create data dir: %w", err)
	}

	s := &Store{
		dir:      dataDir,
		path:     filepath.Join(dataDir, ledgerFileName),
		claimTTL: claimTTL,
		logger:   log.New(log.Writer(), "[Ledger] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}

	entries, err := loadEntries(s.path)
	if err != nil {
		return nil, fmt.Errorf("ledger: load entries: %w", err)
	}
	s.entries = entries

	idx, err := OpenIndex(dataDir)
	if err != nil {
		return nil, fmt.Errorf("ledger: open index: %w", err)
	}
	s.idx = idx

	if len(s.entries) == 0 {
		if err := s.writeGenesisLocked(); err != nil {
			return nil, err
		}
	} else if err := s.idx.Rebuild(s.entries); err != nil {
		return nil, fmt.Errorf("ledger: rebuild index: %w", err)
	}

	s.logger.Printf("ledger ready: %d entries, tail hash %s", len(s.entries), s.tailHashLocked())
	return s, nil
}

// Close releases the accelerator index's file handle.
func (s *Store) Close() error { return s.idx.Close() }

func loadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) tailHashLocked() string {
	if len(s.entries) == 0 {
		return genesisZeroHash
	}
	return s.entries[len(s.entries)-1].EntryHash
}

func (s *Store) writeGenesisLocked() error {
	e := Entry{
		ID:               1,
		Type:             EntryGenesis,
		ContributorAgent: "quasi-board",
		Task:             "GENESIS",
		Timestamp:        FormatTimestamp(time.Now()),
		PrevHash:         genesisZeroHash,
	}
	e.EntryHash = canon.SHA256Hex(canonicalizeEntry(e))
	if err := s.persistLocked(e); err != nil {
		return err
	}
	s.entries = append(s.entries, e)
	return s.idx.SetLastEntryForTask(e.Task, e.ID)
}

// canonicalizeEntry builds the canonical byte form of e, excluding
// entry_hash itself.
func canonicalizeEntry(e Entry) []byte {
	fields := canon.Fields{
		"id":                canon.Int(e.ID),
		"type":              canon.String(string(e.Type)),
		"contributor_agent": canon.String(e.ContributorAgent),
		"task":              canon.String(e.Task),
		"timestamp":         canon.TimestampRFC3339Micro(e.Timestamp),
		"prev_hash":         canon.String(e.PrevHash),
	}
	if e.CommitHash != "" {
		fields["commit_hash"] = canon.String(e.CommitHash)
	}
	if e.PRURL != "" {
		fields["pr_url"] = canon.String(e.PRURL)
	}
	return canon.Canonicalize(fields)
}

// persistLocked appends e's JSON encoding to the ledger file with an
// O_APPEND + fsync write for crash durability. Callers must hold mu for
// writing and must not mutate s.entries until this succeeds.
func (s *Store) persistLocked(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return &StorageError{Op: "marshal", Err: err}
	}
	line = append(line, '\n')

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &StorageError{Op: "open", Err: err}
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return &StorageError{Op: "write", Err: err}
	}
	if err := f.Sync(); err != nil {
		return &StorageError{Op: "fsync", Err: err}
	}
	return nil
}

// hitForTaskLocked returns the most recent entry mentioning taskID,
// preferring the accelerator index and falling back to a full
// newest-to-oldest scan if the index disagrees with the in-memory log
// (e.g. stale after a crash between append and index update).
func (s *Store) hitForTaskLocked(taskID string) (Entry, bool) {
	if id, ok, err := s.idx.LastEntryForTask(taskID); err == nil && ok {
		if i := int(id) - 1; i >= 0 && i < len(s.entries) && s.entries[i].Task == taskID {
			return s.entries[i], true
		}
	}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Task == taskID {
			return s.entries[i], true
		}
	}
	return Entry{}, false
}

// effectiveStatusAtLocked derives the effective status of taskID as of ref.
// ref is the ledger timestamp being compared against — the append path
// passes the new entry's own timestamp (claim expiry compares entry
// timestamps, not wall clock); EffectiveStatus passes time.Now.
func (s *Store) effectiveStatusAtLocked(taskID string, ref time.Time) (Status, Entry, bool) {
	hit, found := s.hitForTaskLocked(taskID)
	if !found || hit.Type == EntryGenesis {
		return Status{State: StateOpen}, Entry{}, false
	}
	if hit.Type == EntryCompletion {
		return Status{State: StateDone}, hit, true
	}
	// hit.Type == EntryClaim
	claimedAt, err := ParseTimestamp(hit.Timestamp)
	if err != nil {
		return Status{State: StateOpen}, hit, true
	}
	expiresAt := claimedAt.Add(s.claimTTL)
	if ref.Before(expiresAt) {
		return Status{
			State:     StateClaimed,
			ClaimedBy: hit.ContributorAgent,
			ExpiresAt: FormatTimestamp(expiresAt),
		}, hit, true
	}
	return Status{State: StateOpen}, hit, true
}

// EffectiveStatus returns the current effective status of taskID, evaluated
// against wall-clock time.
func (s *Store) EffectiveStatus(taskID string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, _, _ := s.effectiveStatusAtLocked(taskID, time.Now())
	return status
}

// AppendClaim appends a claim entry for taskID by agent at ts. Rejects with
// ErrConflict if actively claimed by a different agent; with ErrAlreadyDone
// if already completed. A same-agent re-claim of a still-active claim is
// idempotent and returns the existing entry unchanged.
func (s *Store) AppendClaim(agent, taskID string, ts time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, hit, _ := s.effectiveStatusAtLocked(taskID, ts)
	switch status.State {
	case StateDone:
		return Entry{}, ErrAlreadyDone
	case StateClaimed:
		if status.ClaimedBy == agent {
			return hit, nil
		}
		return Entry{}, ErrConflict
	}

	e := Entry{
		ID:               s.nextIDLocked(),
		Type:             EntryClaim,
		ContributorAgent: agent,
		Task:             taskID,
		Timestamp:        FormatTimestamp(ts),
		PrevHash:         s.tailHashLocked(),
	}
	e.EntryHash = canon.SHA256Hex(canonicalizeEntry(e))
	if err := s.persistLocked(e); err != nil {
		return Entry{}, err
	}
	s.entries = append(s.entries, e)
	if err := s.idx.SetLastEntryForTask(taskID, e.ID); err != nil {
		s.logger.Printf("index update failed for task %s: %v", taskID, err)
	}
	return e, nil
}

// AppendCompletion appends a completion entry, idempotent on
// (task_id, commit_hash): a matching existing completion is returned
// unchanged rather than appended again. A completion may be recorded
// without a prior claim — the merged-PR footer is authoritative.
func (s *Store) AppendCompletion(agent, taskID, commitHash, prURL string, ts time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Type == EntryCompletion && e.Task == taskID && e.CommitHash == commitHash {
			return e, nil
		}
	}

	e := Entry{
		ID:               s.nextIDLocked(),
		Type:             EntryCompletion,
		ContributorAgent: agent,
		Task:             taskID,
		CommitHash:       commitHash,
		PRURL:            prURL,
		Timestamp:        FormatTimestamp(ts),
		PrevHash:         s.tailHashLocked(),
	}
	e.EntryHash = canon.SHA256Hex(canonicalizeEntry(e))
	if err := s.persistLocked(e); err != nil {
		return Entry{}, err
	}
	s.entries = append(s.entries, e)
	if err := s.idx.SetLastEntryForTask(taskID, e.ID); err != nil {
		s.logger.Printf("index update failed for task %s: %v", taskID, err)
	}
	return e, nil
}

func (s *Store) nextIDLocked() int64 {
	return int64(len(s.entries)) + 1
}

// VerifyChain walks the full log verifying sequential ids, hash-chain
// linkage, and entry_hash correctness, returning the first break point
// found, if any. O(n) and always terminates.
func (s *Store) VerifyChain() VerifyResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return VerifyResult{Valid: true}
	}

	genesis := s.entries[0]
	if genesis.ID != 1 || genesis.Type != EntryGenesis || genesis.PrevHash != genesisZeroHash {
		return VerifyResult{Valid: false, BrokenAt: genesis.ID, Reason: ReasonGenesisMismatch}
	}
	if canon.SHA256Hex(canonicalizeEntry(genesis)) != genesis.EntryHash {
		return VerifyResult{Valid: false, BrokenAt: genesis.ID, Reason: ReasonGenesisMismatch}
	}

	prevHash := genesis.EntryHash
	prevID := genesis.ID
	for _, e := range s.entries[1:] {
		if e.ID != prevID+1 {
			return VerifyResult{Valid: false, BrokenAt: e.ID, Reason: ReasonIDGap}
		}
		if e.PrevHash != prevHash {
			return VerifyResult{Valid: false, BrokenAt: e.ID, Reason: ReasonPrevHashMismatch}
		}
		if canon.SHA256Hex(canonicalizeEntry(e)) != e.EntryHash {
			return VerifyResult{Valid: false, BrokenAt: e.ID, Reason: ReasonHashMismatch}
		}
		prevHash = e.EntryHash
		prevID = e.ID
	}
	return VerifyResult{Valid: true}
}

// Entries returns up to limit entries starting at offset (0-based, in id
// order).
func (s *Store) Entries(offset, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if offset < 0 || offset >= len(s.entries) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(s.entries) {
		end = len(s.entries)
	}
	out := make([]Entry, end-offset)
	copy(out, s.entries[offset:end])
	return out
}

// SlotsRemaining returns max(0, 50 - completions). Informational only,
// never gating — the 51st completion is still accepted.
func (s *Store) SlotsRemaining() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if e.Type == EntryCompletion {
			count++
		}
	}
	remaining := MaxSlots - count
	if remaining < 0 {
		return 0
	}
	return remaining
}
