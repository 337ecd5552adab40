package journal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pantryops/cartd/dbopen"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(Config{DB: dbopen.OpenMemory(t)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)

	base := time.Now().UTC().Truncate(time.Second)
	j.Record(Entry{Platform: "ubereats", Kind: "orders", Outcome: "success", DurationMs: 1200, StartedAt: base})
	j.Record(Entry{Platform: "doordash", Kind: "search", Outcome: "blocked", Error: "captcha", DurationMs: 300, StartedAt: base.Add(time.Second)})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := j.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Platform != "doordash" {
		t.Errorf("newest first: got %q", entries[0].Platform)
	}
	if entries[0].RunID == "" {
		t.Error("missing generated run id")
	}
	if entries[0].Error != "captcha" || entries[0].Outcome != "blocked" {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestRecentFiltersByPlatform(t *testing.T) {
	j := newTestJournal(t)

	j.Record(Entry{Platform: "ubereats", Kind: "orders", Outcome: "success"})
	j.Record(Entry{Platform: "instacart", Kind: "cart", Outcome: "failure"})
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := j.Recent(context.Background(), "instacart", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 1 || entries[0].Platform != "instacart" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRecordDuringAndAfterClose(t *testing.T) {
	j := newTestJournal(t)

	var wg sync.WaitGroup
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				j.Record(Entry{Platform: "ubereats", Kind: "search", Outcome: "success"})
			}
		}()
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()

	// Late records are dropped, never a panic, and a second Close is a no-op.
	j.Record(Entry{Platform: "ubereats", Kind: "cart", Outcome: "failure"})
	if err := j.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestRecordNeverBlocks(t *testing.T) {
	j, err := New(Config{DB: dbopen.OpenMemory(t), Buffer: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 100; i++ {
		j.Record(Entry{Platform: "ubereats", Kind: "search", Outcome: "success"})
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
