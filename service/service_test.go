package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/juju/clock/testclock"

	"github.com/goliatone/go-crm-batch/audit"
	"github.com/goliatone/go-crm-batch/exporter"
	"github.com/goliatone/go-crm-batch/importer"
	"github.com/goliatone/go-crm-batch/jobs"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/pkg/testsupport"
	"github.com/goliatone/go-crm-batch/repository"
	"github.com/goliatone/go-crm-batch/service"
	"github.com/goliatone/go-crm-batch/storage"
)

var epoch = time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

type events struct {
	mu   sync.Mutex
	list []audit.Event
}

func (e *events) Publish(_ context.Context, ev audit.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, ev)
	return nil
}

func (e *events) last() audit.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.list) == 0 {
		return nil
	}
	return e.list[len(e.list)-1]
}

type queued struct {
	kind    string
	payload any
}

type fakeQueue struct {
	err  error
	jobs []queued
}

func (q *fakeQueue) Enqueue(_ context.Context, kind string, payload any, _ ...jobs.EnqueueOption) (*jobs.Job, error) {
	if q.err != nil {
		return nil, q.err
	}
	q.jobs = append(q.jobs, queued{kind: kind, payload: payload})
	return &jobs.Job{Kind: kind}, nil
}

type env struct {
	clock      *testclock.Clock
	files      *storage.Local
	customers  *service.Customers
	imports    *service.Imports
	exports    *service.Exports
	importRepo *repository.Imports
	exportRepo *repository.Exports
	queue      *fakeQueue
	events     *events
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testsupport.NewDB(t, repository.Migrate)
	clk := testclock.NewClock(epoch)
	files, err := storage.NewLocal(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	signer, err := storage.NewTokenSigner("https://crm.test/downloads", []byte("service-test-key-000000"), clk)
	if err != nil {
		t.Fatal(err)
	}
	e := &env{
		clock:      clk,
		files:      files,
		importRepo: repository.NewImports(db, repository.WithClock(clk)),
		exportRepo: repository.NewExports(db, repository.WithClock(clk)),
		queue:      &fakeQueue{},
		events:     &events{},
	}
	customerRepo := repository.NewCustomers(db, repository.WithClock(clk))
	e.customers = service.NewCustomers(customerRepo, e.events, service.WithClock(clk))
	e.imports = service.NewImports(e.importRepo, files, e.queue, e.events, service.WithClock(clk))
	cleanup := exporter.NewCleanup(e.exportRepo, files, exporter.WithClock(clk))
	e.exports = service.NewExports(e.exportRepo, files, signer, e.queue, cleanup, e.events, service.WithClock(clk))
	return e
}

func ann() service.CustomerInput {
	return service.CustomerInput{FirstName: "Ann", LastName: "Lee", Email: "Ann@Example.com", Organization: "Acme"}
}

func TestCustomers_CreateValidatesAndSlugs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if _, err := e.customers.Create(ctx, 1, service.CustomerInput{Email: "nope"}, audit.Meta{}); !goerrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	future := epoch.Add(48 * time.Hour)
	in := ann()
	in.Birthdate = &future
	if _, err := e.customers.Create(ctx, 1, in, audit.Meta{}); !goerrors.IsValidation(err) {
		t.Fatalf("expected future birthdate to be rejected, got %v", err)
	}

	first, err := e.customers.Create(ctx, 1, ann(), audit.Meta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Slug != "ann-lee" || first.Email != "ann@example.com" {
		t.Errorf("unexpected customer %+v", first)
	}
	if _, ok := e.events.last().(audit.CustomerCreated); !ok {
		t.Errorf("expected created event, got %T", e.events.last())
	}

	if _, err := e.customers.Create(ctx, 1, ann(), audit.Meta{}); !repository.IsDuplicate(err) {
		t.Fatalf("expected duplicate email, got %v", err)
	}

	twin := ann()
	twin.Email = "ann2@example.com"
	second, err := e.customers.Create(ctx, 1, twin, audit.Meta{})
	if err != nil || second.Slug != "ann-lee-2" {
		t.Fatalf("expected suffixed slug, got %+v %v", second, err)
	}

	// slugs and emails are scoped per user
	other, err := e.customers.Create(ctx, 2, ann(), audit.Meta{})
	if err != nil || other.Slug != "ann-lee" {
		t.Fatalf("expected independent slug space, got %+v %v", other, err)
	}
}

func TestCustomers_UpdateAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c, err := e.customers.Create(ctx, 1, ann(), audit.Meta{})
	if err != nil {
		t.Fatal(err)
	}

	in := ann()
	in.JobTitle = "CTO"
	updated, err := e.customers.Update(ctx, 1, c.ID, in, audit.Meta{})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.JobTitle != "CTO" || updated.Slug != "ann-lee" {
		t.Errorf("unexpected customer %+v", updated)
	}
	ev, ok := e.events.last().(audit.CustomerUpdated)
	if !ok || len(ev.Changes) != 1 || ev.Changes["job_title"].New != "CTO" {
		t.Errorf("unexpected update event %+v", e.events.last())
	}

	if _, err := e.customers.Update(ctx, 2, c.ID, in, audit.Meta{}); !repository.IsOwnershipViolation(err) {
		t.Errorf("expected ownership violation, got %v", err)
	}
	if err := e.customers.Delete(ctx, 2, c.ID, audit.Meta{}); !repository.IsOwnershipViolation(err) {
		t.Errorf("expected ownership violation, got %v", err)
	}

	if err := e.customers.Delete(ctx, 1, c.ID, audit.Meta{}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if del, ok := e.events.last().(audit.CustomerDeleted); !ok || del.Name != "Ann Lee" {
		t.Errorf("unexpected delete event %+v", e.events.last())
	}
	if _, err := e.customers.Get(ctx, 1, c.ID); !repository.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func upload(content string) service.Upload {
	return service.Upload{Filename: "Leads.csv", Content: strings.NewReader(content), HasHeader: true}
}

func TestImports_Enqueue(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	imp, err := e.imports.Enqueue(ctx, 1, upload("email,first_name\na@b.co,A\n"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if imp.Status != model.StatusPending || imp.OriginalFilename != "Leads.csv" || imp.Delimiter != "," || imp.Encoding != model.EncodingUTF8 {
		t.Errorf("unexpected import %+v", imp)
	}
	if !strings.HasPrefix(imp.FilePath, "imports/user_1/2024/07/") {
		t.Errorf("unexpected path %s", imp.FilePath)
	}
	if ok, _ := e.files.Exists(ctx, imp.FilePath); !ok {
		t.Error("expected stored upload")
	}
	if len(e.queue.jobs) != 1 || e.queue.jobs[0].kind != importer.JobKind ||
		e.queue.jobs[0].payload != (importer.Payload{ImportID: imp.ID, UserID: 1}) {
		t.Errorf("unexpected queued jobs %+v", e.queue.jobs)
	}
}

func TestImports_EnqueueRejectsBadUploads(t *testing.T) {
	e := newEnv(t)
	bad := []service.Upload{
		{Filename: "leads.pdf", Content: strings.NewReader("x")},
		{Filename: "leads.csv"},
		{Filename: "leads.csv", Content: strings.NewReader("x"), Delimiter: "\t"},
		{Filename: "leads.csv", Content: strings.NewReader("x"), Encoding: "utf-16"},
	}
	for _, up := range bad {
		if _, err := e.imports.Enqueue(context.Background(), 1, up); !goerrors.IsValidation(err) {
			t.Errorf("expected %+v to be rejected, got %v", up, err)
		}
	}
	if len(e.queue.jobs) != 0 {
		t.Error("rejected uploads must not be queued")
	}
}

func TestImports_EnqueueFailureMarksImportFailed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.queue.err = errors.New("queue down")

	if _, err := e.imports.Enqueue(ctx, 1, upload("email\n")); err == nil {
		t.Fatal("expected error")
	}
	list, err := e.imports.Recent(ctx, 1, 5)
	if err != nil || len(list) != 1 {
		t.Fatalf("Recent: %v %v", list, err)
	}
	if list[0].Status != model.StatusFailed || !strings.Contains(list[0].ErrorMessage, "queue down") {
		t.Errorf("unexpected import %+v", list[0])
	}
}

func TestImports_Cancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	imp, err := e.imports.Enqueue(ctx, 1, upload("email\n"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.imports.Cancel(ctx, 2, imp.ID); !repository.IsOwnershipViolation(err) {
		t.Errorf("expected ownership violation, got %v", err)
	}
	ok, err := e.imports.Cancel(ctx, 1, imp.ID)
	if err != nil || !ok {
		t.Fatalf("Cancel: %v %v", ok, err)
	}
	ok, err = e.imports.Cancel(ctx, 1, imp.ID)
	if err != nil || ok {
		t.Errorf("second cancel should be a no-op, got %v %v", ok, err)
	}
	got, _ := e.imports.Get(ctx, 1, imp.ID)
	if got.Status != model.StatusCancelled || got.CompletedAt == nil {
		t.Errorf("unexpected import %+v", got)
	}
	if ev, ok := e.events.last().(audit.ImportFinished); !ok || ev.Import.Status != model.StatusCancelled {
		t.Errorf("unexpected event %+v", e.events.last())
	}
}

func TestExports_EnqueueValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	exp, err := e.exports.Enqueue(ctx, 1, service.ExportRequest{Format: model.FormatCSV})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if exp.Type != model.ExportAll || exp.Filename != "customers_export_20240701_120000.csv" {
		t.Errorf("unexpected export %+v", exp)
	}
	if e.queue.jobs[0].payload != (exporter.Payload{ExportID: exp.ID, UserID: 1}) {
		t.Errorf("unexpected payload %+v", e.queue.jobs[0])
	}

	filtered, err := e.exports.Enqueue(ctx, 1, service.ExportRequest{Format: model.FormatJSON, Filters: model.CustomerFilter{Organization: "Acme"}})
	if err != nil || filtered.Type != model.ExportFiltered {
		t.Fatalf("expected filtered export, got %+v %v", filtered, err)
	}

	from, to := epoch, epoch.Add(-time.Hour)
	bad := []service.ExportRequest{
		{Format: "pdf"},
		{Type: model.ExportFiltered, Format: model.FormatCSV},
		{Format: model.FormatCSV, Filters: model.CustomerFilter{CreatedFrom: &from, CreatedTo: &to}},
	}
	for _, req := range bad {
		if _, err := e.exports.Enqueue(ctx, 1, req); !goerrors.IsValidation(err) {
			t.Errorf("expected %+v to be rejected, got %v", req, err)
		}
	}
}

func TestExports_DownloadStates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	exp, err := e.exports.Enqueue(ctx, 1, service.ExportRequest{Format: model.FormatCSV})
	if err != nil {
		t.Fatal(err)
	}

	state := func(userID int64) service.DownloadState {
		t.Helper()
		d, err := e.exports.Download(ctx, userID, exp.ID)
		if err != nil {
			t.Fatalf("Download: %v", err)
		}
		return d.State
	}
	if s := state(1); s != service.DownloadNotReady {
		t.Errorf("pending export: %s", s)
	}

	// complete it by hand
	path := storage.ExportPath(1, "csv", e.clock.Now())
	if err := e.files.Put(ctx, path, []byte("ID\n")); err != nil {
		t.Fatal(err)
	}
	expires := e.clock.Now().Add(24 * time.Hour)
	exp.Status = model.StatusProcessing
	if ok, err := e.exportRepo.Transition(ctx, 1, exp, []model.Status{model.StatusPending}); !ok || err != nil {
		t.Fatalf("start: %v %v", ok, err)
	}
	exp.Status = model.StatusCompleted
	exp.FilePath = &path
	exp.ExpiresAt = &expires
	if ok, err := e.exportRepo.Transition(ctx, 1, exp, []model.Status{model.StatusProcessing}, "file_path", "expires_at"); !ok || err != nil {
		t.Fatalf("complete: %v %v", ok, err)
	}

	d, err := e.exports.Download(ctx, 1, exp.ID)
	if err != nil || d.State != service.DownloadReady || !strings.Contains(d.URL, "token=") || d.ContentType != "text/csv" {
		t.Fatalf("expected ready download, got %+v %v", d, err)
	}
	if s := state(2); s != service.DownloadNotFound {
		t.Errorf("other user: %s", s)
	}

	if err := e.files.Delete(ctx, path); err != nil {
		t.Fatal(err)
	}
	if s := state(1); s != service.DownloadNotFound {
		t.Errorf("missing artifact: %s", s)
	}
	if ok, _ := e.exports.IsDownloadable(ctx, exp); ok {
		t.Error("missing artifact must not be downloadable")
	}

	if err := e.files.Put(ctx, path, []byte("ID\n")); err != nil {
		t.Fatal(err)
	}
	e.clock.Advance(25 * time.Hour)
	if s := state(1); s != service.DownloadExpired {
		t.Errorf("past expiry: %s", s)
	}
	n, err := e.exports.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CleanupExpired: %d %v", n, err)
	}
	if s := state(1); s != service.DownloadExpired {
		t.Errorf("expired export: %s", s)
	}
}
