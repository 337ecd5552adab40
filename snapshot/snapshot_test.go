package snapshot

import (
	"context"
	"strings"
	"testing"

	"github.com/pantryops/cartd/dbopen"
)

func newTestArchiver(t *testing.T) *Archiver {
	t.Helper()
	a, err := New(Config{DB: dbopen.OpenMemory(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestRenderStripsScriptsKeepsContent(t *testing.T) {
	a := newTestArchiver(t)

	html := `<html><body>
		<script>alert("tracking")</script>
		<h1>Order History</h1>
		<p>Whole Milk <b>$3.99</b></p>
	</body></html>`

	md, err := a.Render("https://example.com/orders", html)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(md, "alert") {
		t.Errorf("script content survived: %s", md)
	}
	if !strings.Contains(md, "Order History") || !strings.Contains(md, "Whole Milk") {
		t.Errorf("page content missing: %s", md)
	}
}

func TestRenderResolvesRelativeLinks(t *testing.T) {
	a := newTestArchiver(t)

	md, err := a.Render("https://example.com/orders", `<a href="/store/42">Corner Market</a>`)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(md, "https://example.com/store/42") {
		t.Errorf("relative link not resolved: %s", md)
	}
}

func TestArchiveAndRecent(t *testing.T) {
	a := newTestArchiver(t)
	ctx := context.Background()

	a.Archive(ctx, "ubereats", "orders", "https://example.com/orders", `<h1>First</h1>`)
	a.Archive(ctx, "ubereats", "orders", "https://example.com/orders", `<h1>Second</h1>`)
	a.Archive(ctx, "doordash", "search", "https://example.com/search", `<h1>Other</h1>`)

	snaps, err := a.Recent(ctx, "ubereats", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(snaps) = %d, want 2", len(snaps))
	}
	if !strings.Contains(snaps[0].Markdown, "Second") {
		t.Errorf("newest snapshot = %q, want the second archive", snaps[0].Markdown)
	}
	if snaps[0].Kind != "orders" || snaps[0].Platform != "ubereats" {
		t.Errorf("snapshot metadata = %+v", snaps[0])
	}
}

func TestArchiveSwallowsBadInput(t *testing.T) {
	a := newTestArchiver(t)

	// Must not panic or fail the caller.
	a.Archive(context.Background(), "ubereats", "orders", "::not a url::", "")
}
