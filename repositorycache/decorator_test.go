package repositorycache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-crm-batch/cache"
	"github.com/goliatone/go-crm-batch/internal/cacheinfra"
	"github.com/goliatone/go-crm-batch/model"
	"github.com/goliatone/go-crm-batch/pkg/testsupport"
	"github.com/goliatone/go-crm-batch/repository"
)

// counter records how often the wrapped repository was reached.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) hit(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[op]++
}

func (c *counter) get(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

type countingCustomers struct {
	repository.CustomerRepository
	counter
}

func (r *countingCustomers) FindByID(ctx context.Context, userID, id int64) (*model.Customer, error) {
	r.hit("FindByID")
	return r.CustomerRepository.FindByID(ctx, userID, id)
}

func (r *countingCustomers) FindByIDs(ctx context.Context, userID int64, ids []int64) ([]model.Customer, error) {
	r.hit("FindByIDs")
	return r.CustomerRepository.FindByIDs(ctx, userID, ids)
}

func (r *countingCustomers) Count(ctx context.Context, userID int64) (int, error) {
	r.hit("Count")
	return r.CustomerRepository.Count(ctx, userID)
}

type countingImports struct {
	repository.ImportRepository
	counter
}

func (r *countingImports) FindByID(ctx context.Context, userID, id int64) (*model.Import, error) {
	r.hit("FindByID")
	return r.ImportRepository.FindByID(ctx, userID, id)
}

type countingAudit struct {
	repository.AuditRepository
	counter
}

func (r *countingAudit) Recent(ctx context.Context, userID int64, limit int) ([]model.Activity, error) {
	r.hit("Recent")
	return r.AuditRepository.Recent(ctx, userID, limit)
}

type env struct {
	store     *cacheinfra.SturdycStore
	coord     *cache.Coordinator
	customers *Customers
	custBase  *countingCustomers
	imports   *Imports
	impBase   *countingImports
	audit     *Audit
	auditBase *countingAudit
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testsupport.NewDB(t, repository.Migrate)
	store, err := cacheinfra.NewSturdycStore(cacheinfra.DefaultConfig())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	coord := cache.NewCoordinator(store)

	e := &env{
		store:     store,
		coord:     coord,
		custBase:  &countingCustomers{CustomerRepository: repository.NewCustomers(db)},
		impBase:   &countingImports{ImportRepository: repository.NewImports(db)},
		auditBase: &countingAudit{AuditRepository: repository.NewAudit(db)},
	}
	if e.customers, err = NewCustomers(e.custBase, coord, nil); err != nil {
		t.Fatalf("customers: %v", err)
	}
	if e.imports, err = NewImports(e.impBase, coord, nil); err != nil {
		t.Fatalf("imports: %v", err)
	}
	if e.audit, err = NewAudit(e.auditBase, coord, nil); err != nil {
		t.Fatalf("audit: %v", err)
	}
	return e
}

func (e *env) customer(t *testing.T, userID int64, email string) *model.Customer {
	t.Helper()
	c := &model.Customer{FirstName: "Ann", Email: email, Slug: email}
	if err := e.customers.Create(context.Background(), userID, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestCustomers_ReadThroughAndInvalidateOnWrite(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, 1, "ann@example.com")

	first, err := e.customers.FindByID(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	second, err := e.customers.FindByID(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if e.custBase.get("FindByID") != 1 {
		t.Errorf("expected one base call, got %d", e.custBase.get("FindByID"))
	}
	if first == second || first.Email != second.Email {
		t.Error("expected equal values in distinct copies")
	}

	second.FirstName = "Bea"
	if err := e.customers.Update(ctx, 1, second); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := e.customers.FindByID(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.FirstName != "Bea" || e.custBase.get("FindByID") != 2 {
		t.Errorf("expected refetch after update, got %q after %d calls", got.FirstName, e.custBase.get("FindByID"))
	}
}

func TestCustomers_RejectedWriteLeavesCacheIntact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, 1, "ann@example.com")

	if _, err := e.customers.FindByID(ctx, 1, c.ID); err != nil {
		t.Fatalf("find: %v", err)
	}
	size := e.store.Size()

	hijack := *c
	hijack.FirstName = "Mallory"
	if err := e.customers.Update(ctx, 2, &hijack); !repository.IsOwnershipViolation(err) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
	if err := e.customers.Delete(ctx, 2, c.ID); !repository.IsOwnershipViolation(err) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
	if e.store.Size() != size {
		t.Errorf("expected cache untouched, size %d -> %d", size, e.store.Size())
	}

	got, err := e.customers.FindByID(ctx, 1, c.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.FirstName != "Ann" || e.custBase.get("FindByID") != 1 {
		t.Errorf("expected cached original, got %q after %d calls", got.FirstName, e.custBase.get("FindByID"))
	}
}

func TestCustomers_ErrorsAreNotCached(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.customer(t, 1, "ann@example.com")

	for i := 0; i < 2; i++ {
		if _, err := e.customers.FindByID(ctx, 2, c.ID); !repository.IsOwnershipViolation(err) {
			t.Fatalf("expected ownership violation, got %v", err)
		}
	}
	if e.custBase.get("FindByID") != 2 {
		t.Errorf("expected errors to reach the base every time, got %d", e.custBase.get("FindByID"))
	}
}

func TestCustomers_FindByIDsIgnoresOrder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := e.customer(t, 1, "a@example.com")
	b := e.customer(t, 1, "b@example.com")

	if _, err := e.customers.FindByIDs(ctx, 1, []int64{a.ID, b.ID}); err != nil {
		t.Fatalf("find: %v", err)
	}
	got, err := e.customers.FindByIDs(ctx, 1, []int64{b.ID, a.ID})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 || e.custBase.get("FindByIDs") != 1 {
		t.Errorf("expected permutation to hit the cache, %d rows after %d calls", len(got), e.custBase.get("FindByIDs"))
	}

	if err := e.customers.Delete(ctx, 1, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = e.customers.FindByIDs(ctx, 1, []int64{a.ID, b.ID})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected deleted customer gone, got %d rows", len(got))
	}
}

func TestCustomers_UsersDoNotShareEntries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.customer(t, 1, "a@example.com")

	n1, _ := e.customers.Count(ctx, 1)
	n2, _ := e.customers.Count(ctx, 2)
	if n1 != 1 || n2 != 0 {
		t.Errorf("expected per user counts 1/0, got %d/%d", n1, n2)
	}

	e.customer(t, 2, "b@example.com")
	if n1, _ := e.customers.Count(ctx, 1); n1 != 1 {
		t.Errorf("expected user 1 count unchanged, got %d", n1)
	}
	if n2, _ := e.customers.Count(ctx, 2); n2 != 1 {
		t.Errorf("expected user 2 count refreshed, got %d", n2)
	}
	if e.custBase.get("Count") != 3 {
		t.Errorf("expected only user 2 to refetch, got %d base calls", e.custBase.get("Count"))
	}
}

func TestImports_InFlightRecordsAreNotCached(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	imp := &model.Import{Filename: "a.csv", OriginalFilename: "a.csv", FilePath: "p", Delimiter: ",", Encoding: model.EncodingUTF8}
	if err := e.imports.Create(ctx, 1, imp); err != nil {
		t.Fatalf("create: %v", err)
	}

	e.imports.FindByID(ctx, 1, imp.ID)
	e.imports.FindByID(ctx, 1, imp.ID)
	if e.impBase.get("FindByID") != 2 {
		t.Fatalf("expected pending import to bypass the cache, got %d calls", e.impBase.get("FindByID"))
	}

	imp.Status = model.StatusCancelled
	if ok, err := e.imports.Transition(ctx, 1, imp, []model.Status{model.StatusPending}); err != nil || !ok {
		t.Fatalf("cancel: %v %v", ok, err)
	}
	e.imports.FindByID(ctx, 1, imp.ID)
	got, err := e.imports.FindByID(ctx, 1, imp.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Status != model.StatusCancelled || e.impBase.get("FindByID") != 3 {
		t.Errorf("expected terminal import to be cached, status %s after %d calls", got.Status, e.impBase.get("FindByID"))
	}
}

func TestAudit_AppendInvalidatesRecent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	record := func() {
		t.Helper()
		if err := e.audit.Append(ctx, &model.Activity{Event: model.EventCreated, Description: "x", SubjectType: model.SubjectCustomer, SubjectID: 1, CauserID: 1}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	record()
	e.audit.Recent(ctx, 1, 10)
	got, _ := e.audit.Recent(ctx, 1, 10)
	if len(got) != 1 || e.auditBase.get("Recent") != 1 {
		t.Fatalf("expected cached recent list, %d rows after %d calls", len(got), e.auditBase.get("Recent"))
	}

	record()
	got, _ = e.audit.Recent(ctx, 1, 10)
	if len(got) != 2 {
		t.Errorf("expected fresh list after append, got %d", len(got))
	}
}

func TestWithCacheTags(t *testing.T) {
	e := newEnv(t)
	c := e.customer(t, 1, "a@example.com")
	ctx := WithCacheTags(context.Background(), "dashboard", "dashboard", "")

	if tags := cacheTagsFromContext(ctx); len(tags) != 1 || tags[0] != "dashboard" {
		t.Fatalf("unexpected context tags %v", tags)
	}

	e.customers.FindByID(ctx, 1, c.ID)
	if err := e.coord.InvalidateByTags(context.Background(), "dashboard"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	e.customers.FindByID(ctx, 1, c.ID)
	if e.custBase.get("FindByID") != 2 {
		t.Errorf("expected context tag invalidation to force a refetch, got %d calls", e.custBase.get("FindByID"))
	}
}

func TestTTLTable(t *testing.T) {
	tests := []struct {
		name    string
		table   TTLTable
		wantErr bool
	}{
		{"defaults", DefaultCustomerTTLs, false},
		{"zero", TTLTable{"FindByID": 0}, true},
		{"negative", TTLTable{"FindByID": -time.Second}, true},
		{"too long", TTLTable{"FindByID": cache.MaxTTL + time.Second}, true},
		{"max", TTLTable{"FindByID": cache.MaxTTL}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	coord := cache.NewCoordinator(nil)
	if _, err := NewCustomers(nil, coord, TTLTable{"Count": 0}); err == nil {
		t.Error("expected constructor to reject an invalid override")
	}
	merged := DefaultCustomerTTLs.Merge(TTLTable{"Count": time.Second})
	if merged.For("Count") != time.Second || DefaultCustomerTTLs.For("Count") == time.Second {
		t.Error("expected Merge to copy")
	}
}

func TestOperationName(t *testing.T) {
	tests := map[string]string{
		"FindByID":            "customer_find_by_id",
		"CountByOrganization": "customer_count_by_organization",
		"Recent":              "customer_recent",
		"find::weird":         "customer_find_weird",
	}
	for op, want := range tests {
		if got := operationName("customer", op); got != want {
			t.Errorf("operationName(%q) = %q, want %q", op, got, want)
		}
	}
}

func TestImports_CrossUserUpdateLeavesRecordAndCacheIntact(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	imp := &model.Import{Filename: "a.csv", OriginalFilename: "a.csv", FilePath: "imports/a.csv",
		Delimiter: ",", Encoding: model.EncodingUTF8, Status: model.StatusCompleted, TotalRows: 3}
	if err := e.imports.Create(ctx, 1, imp); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.imports.FindByID(ctx, 1, imp.ID); err != nil {
		t.Fatalf("find: %v", err)
	}
	size := e.store.Size()

	hijack := *imp
	hijack.Filename = "stolen.csv"
	hijack.TotalRows = 99
	if err := e.imports.Update(ctx, 2, &hijack); !repository.IsOwnershipViolation(err) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
	if e.store.Size() != size {
		t.Errorf("expected cache untouched, size %d -> %d", size, e.store.Size())
	}

	got, err := e.imports.FindByID(ctx, 1, imp.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Filename != "a.csv" || got.TotalRows != 3 || e.impBase.get("FindByID") != 1 {
		t.Errorf("expected cached original, got %+v after %d calls", got, e.impBase.get("FindByID"))
	}

	stored, err := e.impBase.ImportRepository.FindByID(ctx, 1, imp.ID)
	if err != nil {
		t.Fatalf("base find: %v", err)
	}
	if stored.Filename != "a.csv" || stored.TotalRows != 3 {
		t.Errorf("record was modified by another user: %+v", stored)
	}
}

func TestDeferInvalidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.customers.Count(ctx, 1); err != nil {
		t.Fatalf("count: %v", err)
	}

	batchCtx, flush := DeferInvalidation(ctx)
	for _, email := range []string{"a@example.com", "b@example.com"} {
		c := &model.Customer{FirstName: "Ann", Email: email, Slug: email}
		if err := e.customers.Create(batchCtx, 1, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	if n, _ := e.customers.Count(ctx, 1); n != 0 || e.custBase.get("Count") != 1 {
		t.Errorf("expected count to stay cached until flush, got %d after %d calls", n, e.custBase.get("Count"))
	}

	if err := flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n, _ := e.customers.Count(ctx, 1); n != 2 || e.custBase.get("Count") != 2 {
		t.Errorf("expected fresh count after flush, got %d after %d calls", n, e.custBase.get("Count"))
	}
	if err := flush(ctx); err != nil {
		t.Errorf("second flush: %v", err)
	}
}
