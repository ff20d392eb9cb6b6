package receipt

import (
	"strings"
	"testing"
)

func TestNewFormat(t *testing.T) {
	number := New()
	if !strings.HasPrefix(number, "REC-") {
		t.Fatalf("expected REC- prefix, got %s", number)
	}
	if !Valid(number) {
		t.Fatalf("expected generated number to validate: %s", number)
	}
	parts := strings.Split(number, "-")
	if len(parts) != 3 {
		t.Fatalf("expected three dash-separated parts, got %q", number)
	}
}

func TestNewIsUniqueAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		number := New()
		if seen[number] {
			t.Fatalf("duplicate receipt number generated: %s", number)
		}
		seen[number] = true
	}
}

func TestValidRejectsMalformedInput(t *testing.T) {
	for _, input := range []string{"", "REC", "REC-", "sale-123", "rec-123-abc"} {
		if Valid(input) {
			t.Fatalf("expected %q to be rejected", input)
		}
	}
}
