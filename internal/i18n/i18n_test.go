package i18n

import "testing"

func TestT(t *testing.T) {
	Init("th")

	if got := T("en", "key.unavailable"); got != "The key for this room is currently out" {
		t.Fatalf("T(en) = %q", got)
	}
	if got := T("th", "booking.no_active"); got == "booking.no_active" || got == "" {
		t.Fatalf("T(th) returned no translation: %q", got)
	}
	if got := T("en", "no.such.message"); got != "no.such.message" {
		t.Fatalf("unknown id should come back unchanged, got %q", got)
	}
	// unsupported languages fall back
	if got := T("fr", "room.not_found"); got == "room.not_found" {
		t.Fatalf("expected fallback translation, got %q", got)
	}
}

func TestTf(t *testing.T) {
	Init("th")

	got := Tf("en", "msg.returned_late", map[string]interface{}{"Minutes": 17, "Score": 10})
	if got != "Key returned 17 minutes late, 10 points deducted" {
		t.Fatalf("Tf = %q", got)
	}
	if got := Tf("en", "msg.borrowed", map[string]interface{}{"Slot": 3}); got != "Key borrowed, slot 3" {
		t.Fatalf("Tf = %q", got)
	}
}

func TestPick(t *testing.T) {
	Init("th")

	tests := []struct {
		query, accept, want string
	}{
		{"EN", "", "en"},
		{"", "", "th"},
		{"", "en-US,en;q=0.9", "en"},
		{"", "th-TH,th;q=0.9,en;q=0.5", "th"},
		{"", "fr-FR", "th"},
	}
	for _, tt := range tests {
		if got := Pick(tt.query, tt.accept); got != tt.want {
			t.Fatalf("Pick(%q, %q) = %q, want %q", tt.query, tt.accept, got, tt.want)
		}
	}
}
