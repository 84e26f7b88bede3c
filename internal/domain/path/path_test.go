package path

import (
	"strings"
	"testing"
)

func TestDepth(t *testing.T) {
	tests := []struct {
		p    string
		want int
	}{
		{"root/doc1", 1},
		{"root/doc1/children/childA", 3},
		{"root/doc1/children/childA/grandchildren/g1", 5},
	}
	for _, tc := range tests {
		if got := Depth(tc.p); got != tc.want {
			t.Errorf("Depth(%q) = %d, want %d", tc.p, got, tc.want)
		}
	}
}

func TestIsDirectChild(t *testing.T) {
	col := Collection("root/doc1", "children")
	if !IsDirectChild(col, "root/doc1/children/childA") {
		t.Error("childA must be a direct child")
	}
	if IsDirectChild(col, "root/doc1/children/childA/grandchildren/g1") {
		t.Error("grandchild must not be a direct child")
	}
	if IsDirectChild(col, "root/doc1/childrenX/a") {
		t.Error("sibling collection with shared prefix must not match")
	}
}

func TestChild(t *testing.T) {
	if got := Child("root/doc1", "children", "a"); got != "root/doc1/children/a" {
		t.Errorf("Child = %q", got)
	}
	if got := ID("root/doc1/children/a"); got != "a" {
		t.Errorf("ID = %q", got)
	}
	if got := Parent("root/doc1/children/a"); got != "root/doc1/children" {
		t.Errorf("Parent = %q", got)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("users/u1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, p := range []string{"", "users", "users//u1", "users/u1/orders"} {
		if err := Validate(p); err == nil {
			t.Errorf("Validate(%q): expected error", p)
		}
	}
}

func TestNewID_Format(t *testing.T) {
	id := NewID()
	if len(id) != IDLength {
		t.Fatalf("len = %d, want %d", len(id), IDLength)
	}
	for _, r := range id {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("unexpected rune %q in %q", r, id)
		}
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 5000)
	for range 5000 {
		id := NewID()
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
