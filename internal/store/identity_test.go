package store

import "testing"

func TestIdentity_Deterministic(t *testing.T) {
	a := Identity("Book", "Author", "some highlight text")
	b := Identity("Book", "Author", "some highlight text")
	if a != b {
		t.Errorf("same inputs gave different identities: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("identity length = %d, want 64 hex chars", len(a))
	}
}

func TestIdentity_FieldSeparation(t *testing.T) {
	// Field boundaries must matter: moving a character across a field
	// boundary changes the identity.
	a := Identity("BookA", "uthor", "text")
	b := Identity("Book", "Author", "text")
	if a == b {
		t.Error("field boundary shift did not change identity")
	}

	tests := []struct {
		name                 string
		title, author, text  string
		title2, author2, tx2 string
	}{
		{"different content", "B", "A", "x", "B", "A", "y"},
		{"different book", "B1", "A", "x", "B2", "A", "x"},
		{"different author", "B", "A1", "x", "B", "A2", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Identity(tt.title, tt.author, tt.text) == Identity(tt.title2, tt.author2, tt.tx2) {
				t.Error("distinct inputs collided")
			}
		})
	}
}
