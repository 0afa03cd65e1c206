package worker

import "testing"

func TestValidRef(t *testing.T) {
	valid := []string{"ref_1", "ref_42", "find_ref_3", "page_ref_9"}
	invalid := []string{"", "ref_", "ref_abc", "1", "ref-1", "find_1"}

	for _, r := range valid {
		if !ValidRef(r) {
			t.Fatalf("expected %q to be a valid ref", r)
		}
	}
	for _, r := range invalid {
		if ValidRef(r) {
			t.Fatalf("expected %q to be an invalid ref", r)
		}
	}
}
