package approvals

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/wardenhq/warden/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "approvals.json"))
}

func sampleRequest() Request {
	return Request{
		Tool:        "docker_restart",
		ArgsDigest:  "ab12cd34ef56",
		Summary:     "restart container nginx in production",
		Agent:       "docker",
		TaskID:      "task-1",
		Environment: models.EnvProduction,
		Reason:      "red risk",
	}
}

func TestCreateAndGet(t *testing.T) {
	s := testStore(t)

	created, err := s.Create(sampleRequest())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create returned empty id")
	}
	if created.Verdict != VerdictPending {
		t.Errorf("Verdict = %q, want pending", created.Verdict)
	}

	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Tool != "docker_restart" || got.Summary != "restart container nginx in production" {
		t.Errorf("Get returned %+v", got)
	}
	if got.Environment != models.EnvProduction {
		t.Errorf("Environment = %q", got.Environment)
	}
}

func TestGetUnknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestDecide(t *testing.T) {
	s := testStore(t)
	created, err := s.Create(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	decided, err := s.Approve(created.ID, "looks fine")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if decided.Verdict != VerdictApproved {
		t.Errorf("Verdict = %q, want approved", decided.Verdict)
	}
	if decided.DecidedAt.IsZero() {
		t.Error("DecidedAt not set")
	}
	if decided.Note != "looks fine" {
		t.Errorf("Note = %q", decided.Note)
	}

	// Same verdict again is a no-op.
	again, err := s.Approve(created.ID, "second note")
	if err != nil {
		t.Fatalf("idempotent Approve: %v", err)
	}
	if again.Note != "looks fine" {
		t.Errorf("idempotent Approve changed note to %q", again.Note)
	}

	// Conflicting verdict never transitions.
	if _, err := s.Reject(created.ID, "changed my mind"); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("Reject after approve = %v, want ErrAlreadyDecided", err)
	}
	got, err := s.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Verdict != VerdictApproved {
		t.Errorf("verdict transitioned to %q after conflicting decide", got.Verdict)
	}
}

func TestDecideUnknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.Decide("nope", VerdictApproved, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Decide unknown = %v, want ErrNotFound", err)
	}
}

func TestDecideInvalidVerdict(t *testing.T) {
	s := testStore(t)
	created, err := s.Create(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Decide(created.ID, VerdictPending, ""); err == nil {
		t.Error("Decide(pending) should fail")
	}
	if _, err := s.Decide(created.ID, "maybe", ""); err == nil {
		t.Error("Decide with unknown verdict should fail")
	}
}

func TestRejectReason(t *testing.T) {
	s := testStore(t)
	created, err := s.Create(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	decided, err := s.Reject(created.ID, "not now")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if decided.Verdict != VerdictRejected || decided.Note != "not now" {
		t.Errorf("rejected = %+v", decided)
	}
}

func TestListOrdersOldestFirst(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	s := Open(filepath.Join(t.TempDir(), "approvals.json"), WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		req := sampleRequest()
		req.TaskID = fmt.Sprintf("task-%d", i)
		a, err := s.Create(req)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}
	if _, err := s.Approve(ids[1], ""); err != nil {
		t.Fatal(err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("Pending returned %d records, want 2", len(pending))
	}
	if pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("pending order = %s, %s; want %s, %s", pending[0].ID, pending[1].ID, ids[0], ids[2])
	}

	all, err := s.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("List(\"\") returned %d records, want 3", len(all))
	}
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.json")

	s1 := Open(path)
	created, err := s1.Create(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same file sees the pending record unchanged.
	s2 := Open(path)
	got, err := s2.Get(created.ID)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Summary != created.Summary || got.Verdict != VerdictPending {
		t.Errorf("reopened record = %+v", got)
	}

	// A decision through one handle is visible through the other.
	if _, err := s2.Approve(created.ID, "ok"); err != nil {
		t.Fatal(err)
	}
	seen, err := s1.Get(created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if seen.Verdict != VerdictApproved {
		t.Errorf("first handle sees verdict %q, want approved", seen.Verdict)
	}
}

func TestMatchFindsNewestForInvocation(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s := Open(filepath.Join(t.TempDir(), "approvals.json"), WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))

	if _, err := s.Match("task-1", "docker_restart", "ab12cd34ef56"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Match on empty store error = %v, want ErrNotFound", err)
	}

	first, err := s.Create(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}

	other := sampleRequest()
	other.TaskID = "task-2"
	if _, err := s.Create(other); err != nil {
		t.Fatal(err)
	}

	got, err := s.Match("task-1", "docker_restart", "ab12cd34ef56")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("Match picked %q, want %q", got.ID, first.ID)
	}

	// A later record for the same invocation wins.
	if _, err := s.Reject(first.ID, "no"); err != nil {
		t.Fatal(err)
	}
	second, err := s.Create(sampleRequest())
	if err != nil {
		t.Fatal(err)
	}
	got, err = s.Match("task-1", "docker_restart", "ab12cd34ef56")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID {
		t.Errorf("Match picked %q, want newest %q", got.ID, second.ID)
	}
	if got.Verdict != VerdictPending {
		t.Errorf("Verdict = %q, want pending", got.Verdict)
	}
}

func TestConcurrentCreates(t *testing.T) {
	s := testStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := sampleRequest()
			req.TaskID = fmt.Sprintf("task-%d", i)
			if _, err := s.Create(req); err != nil {
				t.Errorf("Create: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, err := s.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 10 {
		t.Errorf("ledger holds %d records, want 10", len(all))
	}
}
