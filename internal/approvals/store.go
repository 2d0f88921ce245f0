// Package approvals persists the approval ledger: the rendezvous between the
// orchestrator, which parks tasks on RequireApproval, and the operator CLI,
// which decides them out-of-band. The ledger is a human-readable JSON map of
// id to record. Every operation re-reads the file under an advisory lock so
// two processes sharing the directory always see each other's writes.
package approvals

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/models"
)

// Verdict is the operator's decision on an approval.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// ErrNotFound is returned when no approval has the requested id.
var ErrNotFound = errors.New("approval not found")

// ErrAlreadyDecided is returned when a decided approval is asked to change
// its verdict. Decided records never transition again.
var ErrAlreadyDecided = errors.New("approval already decided")

// Approval is one persisted authorization request for a tool invocation.
type Approval struct {
	ID          string             `json:"id"`
	Tool        string             `json:"tool"`
	ArgsDigest  string             `json:"args_digest,omitempty"`
	Summary     string             `json:"summary,omitempty"`
	Agent       string             `json:"agent,omitempty"`
	TaskID      string             `json:"task_id,omitempty"`
	Environment models.Environment `json:"environment,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Verdict     Verdict            `json:"verdict"`
	DecidedAt   time.Time          `json:"decided_at,omitzero"`
	Note        string             `json:"note,omitempty"`
}

// Decided reports whether an operator has ruled on the approval.
func (a *Approval) Decided() bool { return a.Verdict != VerdictPending }

// Request carries everything governance knows about the invocation at the
// moment it parks the task. Summary is the human-readable change plan shown
// by `approve show`.
type Request struct {
	Tool        string
	ArgsDigest  string
	Summary     string
	Agent       string
	TaskID      string
	Environment models.Environment
	Reason      string
}

// Store reads and writes the approval ledger.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDSource overrides approval id generation.
func WithIDSource(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// Open returns a store backed by the ledger at path. The file is created on
// the first write.
func Open(path string, opts ...Option) *Store {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
		newID:  func() string { return uuid.NewString()[:8] },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a new pending approval and returns it.
func (s *Store) Create(req Request) (*Approval, error) {
	var created *Approval
	err := s.withLedger(true, func(ledger map[string]*Approval) (bool, error) {
		id := s.newID()
		for ledger[id] != nil {
			id = s.newID()
		}
		created = &Approval{
			ID:          id,
			Tool:        req.Tool,
			ArgsDigest:  req.ArgsDigest,
			Summary:     req.Summary,
			Agent:       req.Agent,
			TaskID:      req.TaskID,
			Environment: req.Environment,
			Reason:      req.Reason,
			CreatedAt:   s.now().UTC(),
			Verdict:     VerdictPending,
		}
		ledger[id] = created
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval created", "approval_id", created.ID, "tool", created.Tool, "environment", created.Environment)
	return cloned(created), nil
}

// Get returns the approval with the given id.
func (s *Store) Get(id string) (*Approval, error) {
	var found *Approval
	err := s.withLedger(false, func(ledger map[string]*Approval) (bool, error) {
		a, ok := ledger[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		found = cloned(a)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns approvals with the given verdict, oldest first. An empty
// verdict returns everything.
func (s *Store) List(verdict Verdict) ([]*Approval, error) {
	var out []*Approval
	err := s.withLedger(false, func(ledger map[string]*Approval) (bool, error) {
		for _, a := range ledger {
			if verdict != "" && a.Verdict != verdict {
				continue
			}
			out = append(out, cloned(a))
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Pending returns all undecided approvals, oldest first.
func (s *Store) Pending() ([]*Approval, error) {
	return s.List(VerdictPending)
}

// Match finds the newest approval for one invocation. The agent runtime
// uses it on re-entry so a parked call resumes against the operator's
// verdict instead of parking again.
func (s *Store) Match(taskID, tool, argsDigest string) (*Approval, error) {
	var found *Approval
	err := s.withLedger(false, func(ledger map[string]*Approval) (bool, error) {
		for _, a := range ledger {
			if a.TaskID != taskID || a.Tool != tool || a.ArgsDigest != argsDigest {
				continue
			}
			if found == nil || a.CreatedAt.After(found.CreatedAt) {
				found = cloned(a)
			}
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, tool, argsDigest)
	}
	return found, nil
}

// Decide records the operator verdict. Deciding an approval twice with the
// same verdict is a no-op; conflicting verdicts return ErrAlreadyDecided.
func (s *Store) Decide(id string, verdict Verdict, note string) (*Approval, error) {
	if verdict != VerdictApproved && verdict != VerdictRejected {
		return nil, fmt.Errorf("invalid verdict %q", verdict)
	}
	var decided *Approval
	err := s.withLedger(true, func(ledger map[string]*Approval) (bool, error) {
		a, ok := ledger[id]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if a.Decided() {
			decided = cloned(a)
			if a.Verdict == verdict {
				return false, nil
			}
			return false, fmt.Errorf("%w: %s is %s", ErrAlreadyDecided, id, a.Verdict)
		}
		a.Verdict = verdict
		a.DecidedAt = s.now().UTC()
		a.Note = note
		decided = cloned(a)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("approval decided", "approval_id", id, "verdict", decided.Verdict)
	return decided, nil
}

// Approve marks the approval approved.
func (s *Store) Approve(id, note string) (*Approval, error) {
	return s.Decide(id, VerdictApproved, note)
}

// Reject marks the approval rejected; reason is surfaced to the agent as the
// rejection message.
func (s *Store) Reject(id, reason string) (*Approval, error) {
	return s.Decide(id, VerdictRejected, reason)
}

// withLedger runs fn over the decoded ledger while holding both the
// in-process mutex and a cross-process advisory lock on a sidecar file.
// When fn reports dirty the ledger is written back via temp+rename.
func (s *Store) withLedger(exclusive bool, fn func(map[string]*Approval) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := s.flock(exclusive)
	if err != nil {
		return err
	}
	defer lock()

	ledger, err := s.read()
	if err != nil {
		return err
	}
	dirty, err := fn(ledger)
	if err != nil {
		return err
	}
	if dirty {
		return s.write(ledger)
	}
	return nil
}

// flock takes the advisory lock, returning its release func. A store without
// a lockable directory still works within one process via the mutex.
func (s *Store) flock(exclusive bool) (func(), error) {
	f, err := os.OpenFile(s.path+".lock", os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger lock: %w", err)
	}
	how := syscall.LOCK_SH
	if exclusive {
		how = syscall.LOCK_EX
	}
	if err := syscall.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock ledger: %w", err)
	}
	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
	}, nil
}

func (s *Store) read() (map[string]*Approval, error) {
	ledger := make(map[string]*Approval)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read approval ledger: %w", err)
	}
	if len(data) == 0 {
		return ledger, nil
	}
	if err := json.Unmarshal(data, &ledger); err != nil {
		return nil, fmt.Errorf("parse approval ledger: %w", err)
	}
	return ledger, nil
}

func (s *Store) write(ledger map[string]*Approval) error {
	data, err := json.MarshalIndent(ledger, "", "  ")
	if err != nil {
		return fmt.Errorf("encode approval ledger: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write approval ledger: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace approval ledger: %w", err)
	}
	return nil
}

func cloned(a *Approval) *Approval {
	c := *a
	return &c
}
