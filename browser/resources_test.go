package browser

import "testing"

func TestShouldBlock(t *testing.T) {
	blockSet := map[string]bool{"images": true, "fonts": true}

	tests := []struct {
		resType string
		want    bool
	}{
		{"Image", true},
		{"image", true},
		{"Font", true},
		{"Media", false},
		{"Stylesheet", false},
		{"Document", false},
		{"XHR", false},
	}
	for _, tc := range tests {
		if got := shouldBlock(blockSet, tc.resType); got != tc.want {
			t.Errorf("shouldBlock(%q) = %v, want %v", tc.resType, got, tc.want)
		}
	}
}

func TestShouldBlockEmptySet(t *testing.T) {
	if shouldBlock(map[string]bool{}, "image") {
		t.Error("empty block set blocked a request")
	}
}
