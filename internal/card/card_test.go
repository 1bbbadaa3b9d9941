package card

import (
	"encoding/json"
	"testing"
)

func TestNewCardDefaults(t *testing.T) {
	c := New(Table)
	if len(c.Annotations) != 0 || c.Annotations == nil {
		t.Fatalf("expected empty non-nil annotations slice, got %#v", c.Annotations)
	}
	if c.Dismissed || c.Deleted {
		t.Fatalf("expected dismissed and deleted to default false")
	}
	if len(c.ID) != 12 {
		t.Fatalf("expected 12-hex-character id, got %q (%d chars)", c.ID, len(c.ID))
	}
}

func TestCardRoundTrip(t *testing.T) {
	c := New(Markdown)
	c.Title = "hello"
	c.Preview["text"] = "world"

	raw, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Card
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != c.ID || got.Title != c.Title || got.Type != c.Type {
		t.Fatalf("round trip mismatch: got %#v want %#v", got, c)
	}
	if got.Dismissed != false || got.Deleted != false {
		t.Fatalf("expected defaults preserved across round trip")
	}
	if got.Annotations == nil || len(got.Annotations) != 0 {
		t.Fatalf("expected empty annotations list preserved, got %#v", got.Annotations)
	}
}

func TestMatchesIDPrefix(t *testing.T) {
	c := &Card{ID: "abcd1234ef56"}
	cases := []struct {
		prefix string
		want   bool
	}{
		{"abcd1234ef56", true},
		{"abcd", true},
		{"abcd1234", true},
		{"ab", false},
		{"zzzz", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := c.MatchesIDPrefix(tc.prefix); got != tc.want {
			t.Errorf("MatchesIDPrefix(%q) = %v, want %v", tc.prefix, got, tc.want)
		}
	}
}

func TestResponseRequestedAndActionMutuallyClearSet(t *testing.T) {
	c := New(Decision)
	c.ResponseRequested = true
	c.Prompt = "pick one"
	c.Timeout = 30

	c.SetResponse("confirm", "ok", nil, "", "")

	if c.ResponseRequested {
		t.Fatalf("expected response_requested cleared once response_action is set")
	}
	if c.ResponseAction != "confirm" {
		t.Fatalf("expected response_action to be set")
	}
}

func TestSoftDeleteHidesFromCardCount(t *testing.T) {
	c := New(Table)
	if !c.CountsTowardCardCount() {
		t.Fatalf("expected freshly created table card to count")
	}
	c.SoftDelete()
	if c.CountsTowardCardCount() {
		t.Fatalf("expected deleted card to be excluded from card count")
	}
	if c.DeletedAt == "" {
		t.Fatalf("expected deleted_at to be stamped")
	}
}

func TestSectionCardsExcludedFromCardCount(t *testing.T) {
	c := New(Section)
	if c.CountsTowardCardCount() {
		t.Fatalf("expected section cards excluded from card-count aggregates")
	}
}

func TestResponseArtifactIDFor(t *testing.T) {
	if got := ResponseArtifactIDFor("abc123"); got != "resp-abc123" {
		t.Fatalf("got %q", got)
	}
}
