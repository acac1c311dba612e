package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"analysis-pipeline/internal/entity"
	"analysis-pipeline/internal/ledger"
	"analysis-pipeline/internal/pipeline"
	"analysis-pipeline/internal/repository/memory"
	"analysis-pipeline/internal/service"
)

type recordingQueue struct {
	ids        []string
	priorities []service.Priority
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobID string, priority service.Priority) error {
	q.ids = append(q.ids, jobID)
	q.priorities = append(q.priorities, priority)
	return nil
}

type retryDispatch struct{ q *recordingQueue }

func (d retryDispatch) DispatchRetry(ctx context.Context, jobID uuid.UUID) error {
	return d.q.Enqueue(ctx, jobID.String(), service.PriorityRetry)
}

type cliTestEnv struct {
	store    *memory.Store
	ledger   *ledger.Ledger
	queue    *recordingQueue
	migrated int
	closed   int
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	store := memory.New()
	return &cliTestEnv{store: store, ledger: ledger.New(store), queue: &recordingQueue{}}
}

func (e *cliTestEnv) open(ctx context.Context) (*backend, error) {
	retrier := pipeline.NewRetryCoordinator(e.store, e.ledger, retryDispatch{e.queue}, zerolog.Nop())
	svc := service.NewJobService(e.store, e.store, e.store, e.ledger, e.queue, retrier,
		service.Options{MaxURLsPerJob: 2, MaxRetries: 3}, zerolog.Nop())
	return &backend{
		jobs: svc,
		migrate: func(ctx context.Context) error {
			e.migrated++
			return nil
		},
		close: func() { e.closed++ },
	}, nil
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(env.open)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

const reel = "https://www.instagram.com/reel/CLI123/"

func (e *cliTestEnv) submit(t *testing.T) uuid.UUID {
	t.Helper()
	out, err := runCLI(t, e, "submit", "--owner", "owner-1", "--platform", "Instagram", reel)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireContains(t, out, "processing")
	if len(e.queue.ids) != 1 {
		t.Fatalf("expected one enqueue, got %#v", e.queue.ids)
	}
	return uuid.MustParse(e.queue.ids[0])
}

func TestCLIMigrate(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := runCLI(t, env, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	requireContains(t, out, "Schema is up to date")
	if env.migrated != 1 || env.closed != 1 {
		t.Fatalf("expected migrate and close once, got %d/%d", env.migrated, env.closed)
	}
}

func TestCLISubmitAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.submit(t)
	if env.queue.priorities[0] != service.PriorityNormal {
		t.Fatalf("expected normal lane, got %v", env.queue.priorities[0])
	}

	out, err := runCLI(t, env, "status", id.String())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, id.String())
	requireContains(t, out, "instagram")
	requireContains(t, out, "0/3")
}

func TestCLISubmitRejectsForeignDomain(t *testing.T) {
	env := setupCLITestEnv(t)
	_, err := runCLI(t, env, "submit", "--owner", "o", "--platform", "tiktok", reel)
	if err == nil {
		t.Fatal("expected error for an instagram link submitted as tiktok")
	}
	if len(env.queue.ids) != 0 {
		t.Fatal("nothing must be enqueued")
	}
}

func TestCLIStatusBadID(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := runCLI(t, env, "status", "nope"); err == nil {
		t.Fatal("expected invalid id error")
	}
}

func TestCLILedgerSince(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.submit(t)
	ctx := context.Background()
	if _, err := env.ledger.Record(ctx, id, 0, entity.StageFetchingPosts, 10, "Fetching 1 post", nil); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "ledger", id.String())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	requireContains(t, out, "request_created")
	requireContains(t, out, "fetching_posts")
	requireContains(t, out, "last seq 2")

	out, err = runCLI(t, env, "ledger", id.String(), "--since", "1")
	if err != nil {
		t.Fatalf("ledger --since: %v", err)
	}
	if strings.Contains(out, "request_created") {
		t.Fatalf("expected entries after seq 1 only, got %s", out)
	}
	requireContains(t, out, "Fetching 1 post")

	out, err = runCLI(t, env, "ledger", id.String(), "--since", "2")
	if err != nil {
		t.Fatalf("ledger --since 2: %v", err)
	}
	requireContains(t, out, "No entries after 2")

	if _, err := runCLI(t, env, "ledger", id.String(), "--since", "-1"); err == nil {
		t.Fatal("expected error for negative since")
	}
}

func TestCLIRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.submit(t)
	ctx := context.Background()

	if _, err := runCLI(t, env, "retry", id.String()); err == nil {
		t.Fatal("expected retry of a processing job to fail")
	}

	if _, err := env.ledger.RecordError(ctx, id, 0, ledger.ErrorEntry{Message: "slow down", Code: "rate_limit", Retryable: true}); err != nil {
		t.Fatal(err)
	}
	if err := env.store.UpdateStatus(ctx, id, entity.StatusProcessing); err != nil {
		t.Fatal(err)
	}
	stage := entity.StageFetchingPosts
	if err := env.store.FailJob(ctx, id, &stage, entity.JobError{
		Category:   "rate_limit",
		Message:    "Too many requests.",
		Diagnostic: json.RawMessage(`{"status":429}`),
	}); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "status", id.String())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "rate_limit: Too many requests.")
	if strings.Contains(out, `"status":429`) {
		t.Fatalf("diagnostic shown without --diagnostic: %s", out)
	}
	out, err = runCLI(t, env, "status", id.String(), "--diagnostic")
	if err != nil {
		t.Fatalf("status --diagnostic: %v", err)
	}
	requireContains(t, out, `"status":429`)

	out, err = runCLI(t, env, "retry", id.String())
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	requireContains(t, out, "queued for retry 1/3")
	if len(env.queue.priorities) != 2 || env.queue.priorities[1] != service.PriorityRetry {
		t.Fatalf("expected retry lane dispatch, got %#v", env.queue.priorities)
	}
}

func TestCLIResourcesAndThread(t *testing.T) {
	env := setupCLITestEnv(t)
	id := env.submit(t)
	ctx := context.Background()

	out, err := runCLI(t, env, "resources", id.String())
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	requireContains(t, out, "No resources collected")

	r := &entity.Resource{Platform: entity.PlatformInstagram, NativeID: "CLI123", Username: "someone", URL: reel}
	if _, err := env.store.CreateResource(ctx, r); err != nil {
		t.Fatal(err)
	}
	if err := env.store.LinkJobResource(ctx, id, r.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.SeedThread(ctx, r.ID, reel, "A short dance clip."); err != nil {
		t.Fatal(err)
	}

	out, err = runCLI(t, env, "resources", id.String())
	if err != nil {
		t.Fatalf("resources: %v", err)
	}
	requireContains(t, out, r.ID.String())
	requireContains(t, out, "someone")

	out, err = runCLI(t, env, "thread", r.ID.String())
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	requireContains(t, out, "[2] assistant:")
	requireContains(t, out, "A short dance clip.")
}
