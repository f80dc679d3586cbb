package models_test

import (
	"errors"
	"testing"

	"github.com/mmdatafocus/budgets_backend/models"
)

// Without redis the coordinator must stay transparent: every call
// computes, nothing is served stale, and compute errors pass through.
func TestCachedResponseWithoutRedis(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	calls := 0
	compute := func() ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	owner := models.InstanceRef{Kind: "Budget", Id: 1}
	got, err := models.GetOrComputeCachedResponse(ctx, "accounts", owner, "", compute)
	if err != nil {
		t.Fatalf("GetOrComputeCachedResponse: %v", err)
	}
	if len(got) != 2 || got[0] != "a" {
		t.Fatalf("got %v", got)
	}
	if _, err := models.GetOrComputeCachedResponse(ctx, "accounts", owner, "", compute); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls != 2 {
		t.Fatalf("compute called %d times, want 2", calls)
	}
}

func TestCachedResponseSearchBypassesCache(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	calls := 0
	compute := func() (int, error) {
		calls++
		return 42, nil
	}
	owner := models.InstanceRef{Kind: "Budget", Id: 7}
	for i := 0; i < 3; i++ {
		if _, err := models.GetOrComputeCachedResponse(ctx, "subaccounts", owner, "camera", compute); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if calls != 3 {
		t.Fatalf("compute called %d times, want 3", calls)
	}
}

func TestCachedResponsePropagatesComputeError(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	boom := errors.New("boom")
	_, err := models.GetOrComputeCachedResponse(ctx, "accounts", models.InstanceRef{Kind: "Budget", Id: 1}, "", func() (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want compute error", err)
	}
}

// Search-qualified listings filter at the database and therefore must
// never be memoized.
func TestSearchFiltersListings(t *testing.T) {
	setupTestDB(t)
	ctx := testContext()

	budget := mustCreateBudget(t, ctx, "Searchable")
	rows, err := models.BulkCreateAccounts(ctx, budget.ID, []*models.NewAccount{
		{Identifier: "100", Description: "Camera rentals"},
		{Identifier: "200", Description: "Sound crew"},
	})
	if err != nil {
		t.Fatalf("BulkCreateAccounts: %v", err)
	}

	got, err := models.GetAccounts(ctx, budget.ID, false, "Camera")
	if err != nil {
		t.Fatalf("GetAccounts: %v", err)
	}
	if len(got) != 1 || got[0].ID != rows[0].ID {
		t.Fatalf("search returned %d rows", len(got))
	}

	// identifier matches too
	got, err = models.GetAccounts(ctx, budget.ID, false, "200")
	if err != nil {
		t.Fatalf("GetAccounts: %v", err)
	}
	if len(got) != 1 || got[0].ID != rows[1].ID {
		t.Fatalf("identifier search returned %d rows", len(got))
	}
}
