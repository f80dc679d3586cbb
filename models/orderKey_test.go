package models_test

import (
	"testing"

	"github.com/mmdatafocus/budgets_backend/models"
)

func strPtr(s string) *string {
	return &s
}

func TestOrderKeyMidpointBounds(t *testing.T) {
	cases := []struct {
		name  string
		lower *string
		upper *string
		want  string
	}{
		{"both nil", nil, nil, "n"},
		{"room at first position", strPtr("a"), strPtr("z"), "n"},
		{"consecutive characters", strPtr("a"), strPtr("b"), "an"},
		{"consecutive with longer upper", strPtr("a"), strPtr("bc"), "an"},
		{"consecutive with lower tail", strPtr("an"), strPtr("b"), "at"},
		{"lower tail of z", strPtr("az"), strPtr("b"), "azn"},
		{"upper prefix near bottom", nil, strPtr("ab"), "aan"},
		{"open upper with z lower", strPtr("z"), nil, "zn"},
		{"shared prefix", strPtr("abc"), strPtr("abf"), "abe"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := models.OrderKeyMidpoint(tc.lower, tc.upper)
			if err != nil {
				t.Fatalf("OrderKeyMidpoint: %v", err)
			}
			if got != tc.want {
				t.Fatalf("OrderKeyMidpoint = %q, want %q", got, tc.want)
			}
			if tc.lower != nil && got <= *tc.lower {
				t.Fatalf("%q not above lower %q", got, *tc.lower)
			}
			if tc.upper != nil && got >= *tc.upper {
				t.Fatalf("%q not below upper %q", got, *tc.upper)
			}
		})
	}
}

func TestOrderKeyMidpointRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name  string
		lower *string
		upper *string
	}{
		{"equal bounds", strPtr("abc"), strPtr("abc")},
		{"out of order", strPtr("b"), strPtr("a")},
		{"upper prefix of lower", strPtr("abc"), strPtr("ab")},
		{"empty lower", strPtr(""), strPtr("b")},
		{"uppercase", strPtr("A"), strPtr("b")},
		{"digits", strPtr("a1"), strPtr("b")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := models.OrderKeyMidpoint(tc.lower, tc.upper); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// Repeatedly bisecting the same gap must keep producing fresh, valid,
// strictly ordered keys.
func TestOrderKeyRepeatedBisection(t *testing.T) {
	lower := "a"
	upper := "b"
	keys := []string{lower, upper}
	for i := 0; i < 64; i++ {
		mid, err := models.OrderKeyMidpoint(&lower, &upper)
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}
		if err := models.ValidateOrderKey(mid); err != nil {
			t.Fatalf("iteration %d produced invalid key %q: %v", i, mid, err)
		}
		keys = append(keys, mid)
		upper = mid
	}
	seen := map[string]bool{}
	for _, k := range keys {
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestOrderKeysAfter(t *testing.T) {
	keys, err := models.OrderKeysAfter(4, nil)
	if err != nil {
		t.Fatalf("OrderKeysAfter: %v", err)
	}
	if len(keys) != 4 {
		t.Fatalf("got %d keys, want 4", len(keys))
	}
	if keys[0] != "n" {
		t.Fatalf("first key = %q, want %q", keys[0], "n")
	}
	prev := ""
	for _, k := range keys {
		if err := models.ValidateOrderKey(k); err != nil {
			t.Fatalf("invalid key %q: %v", k, err)
		}
		if k <= prev {
			t.Fatalf("keys not strictly increasing: %q after %q", k, prev)
		}
		prev = k
	}

	last := "zz"
	more, err := models.OrderKeysAfter(3, &last)
	if err != nil {
		t.Fatalf("OrderKeysAfter(last=zz): %v", err)
	}
	prev = last
	for _, k := range more {
		if k <= prev {
			t.Fatalf("key %q not above %q", k, prev)
		}
		prev = k
	}
}
