package agent

import (
	"errors"
	"fmt"
	"testing"
)

func TestDefaultProfilesComplete(t *testing.T) {
	profiles := DefaultProfiles()
	for _, name := range []string{"ubereats", "doordash", "instacart"} {
		prof, ok := profiles[name]
		if !ok {
			t.Fatalf("missing profile %s", name)
		}
		if prof.Name != name {
			t.Errorf("%s: Name = %q", name, prof.Name)
		}
		if prof.HomeURL == "" || prof.OrdersURL == "" {
			t.Errorf("%s: missing URLs", name)
		}
		if len(prof.CollectPatterns) == 0 {
			t.Errorf("%s: no collect patterns", name)
		}
		if len(prof.SearchInputSelectors) == 0 || len(prof.ItemCardSelectors) == 0 {
			t.Errorf("%s: missing selectors", name)
		}
		if prof.Extract.Platform != name {
			t.Errorf("%s: extract profile platform = %q", name, prof.Extract.Platform)
		}
	}
}

func TestIsBlocked(t *testing.T) {
	be := &BlockedError{Platform: "ubereats", Phrase: "captcha"}
	if !IsBlocked(be) {
		t.Error("direct BlockedError not recognized")
	}
	if !IsBlocked(fmt.Errorf("run failed: %w", be)) {
		t.Error("wrapped BlockedError not recognized")
	}
	if IsBlocked(errors.New("captcha")) {
		t.Error("plain error misclassified as blocked")
	}
}

func TestValidStoreURL(t *testing.T) {
	prof := DefaultProfiles()["ubereats"]

	good := []string{
		"https://www.ubereats.com/store/corner-market/abc123",
		"https://merchants.ubereats.com/store/x",
	}
	for _, u := range good {
		if err := validStoreURL(prof, u); err != nil {
			t.Errorf("validStoreURL(%q) = %v", u, err)
		}
	}

	bad := []string{
		"http://www.ubereats.com/store/x",
		"https://evil.example.com/store/x",
		"https://ubereats.com.evil.example.com/",
		"javascript:alert(1)",
	}
	for _, u := range bad {
		if err := validStoreURL(prof, u); err == nil {
			t.Errorf("validStoreURL(%q) accepted", u)
		}
	}
}

func TestBestMatch(t *testing.T) {
	candidates := []string{
		"Organic Whole Milk, 1 Gallon",
		"2% Reduced Fat Milk",
		"Almond Breeze Unsweetened",
		"",
	}

	idx, score := bestMatch("whole milk", candidates)
	if idx != 0 {
		t.Errorf("idx = %d (score %.2f), want 0", idx, score)
	}
	if score < matchThreshold {
		t.Errorf("score = %.2f, want >= %.2f", score, matchThreshold)
	}

	if idx, _ := bestMatch("dragonfruit smoothie kit", candidates); idx != -1 {
		t.Errorf("unrelated query matched index %d", idx)
	}

	if idx, _ := bestMatch("anything", nil); idx != -1 {
		t.Errorf("empty candidates matched index %d", idx)
	}
}

func TestBestMatchCaseAndSpacing(t *testing.T) {
	idx, _ := bestMatch("  WHOLE   milk ", []string{"organic whole milk"})
	if idx != 0 {
		t.Errorf("idx = %d, want 0", idx)
	}
}
