package contacts

import (
	"context"
	"testing"
)

func TestNames(t *testing.T) {
	tests := []struct {
		name      string
		contact   Contact
		wantFull  string
		wantFirst string
	}{
		{"first and last", Contact{FirstName: "John", LastName: "Smith"}, "John Smith", "John"},
		{"first only", Contact{FirstName: "Cher"}, "Cher", "Cher"},
		{"display only", Contact{DisplayName: " Dr. Who "}, "Dr. Who", "Dr."},
		{"empty", Contact{}, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.contact.FullName(); got != tt.wantFull {
				t.Errorf("FullName() = %q, want %q", got, tt.wantFull)
			}
			if got := tt.contact.First(); got != tt.wantFirst {
				t.Errorf("First() = %q, want %q", got, tt.wantFirst)
			}
		})
	}
}

func TestStatic(t *testing.T) {
	dir := Static{"u1": {{ID: "c1", FirstName: "Jane"}}}

	got, err := dir.ListContacts(context.Background(), "u1")
	if err != nil || len(got) != 1 {
		t.Fatalf("ListContacts(u1) = %v, %v", got, err)
	}
	if got, _ := dir.ListContacts(context.Background(), "nobody"); len(got) != 0 {
		t.Errorf("ListContacts(nobody) = %v, want empty", got)
	}
}
