package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

// fakeClock hands out strictly increasing timestamps one second apart.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Now == nil {
		clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		opts.Now = clk.Now
	}
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "responses.db"), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_InitIsIdempotent(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()
	if _, err := s.Insert(ctx, "p", "r"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second init: %v", err)
	}
	n, err := s.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count=%d err=%v, want 1 row to survive re-init", n, err)
	}
}

func TestStore_RoundTripSingleRow(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()
	if _, err := s.Insert(ctx, "p1", "r1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := s.SampleExcluding(ctx, nil)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if got.Text != "r1" || got.Prompt != "p1" {
		t.Fatalf("got %+v, want p1/r1", got)
	}
	latest, err := s.Latest(ctx)
	if err != nil || latest.ID != got.ID {
		t.Fatalf("latest=%+v err=%v", latest, err)
	}
}

func TestStore_EmptyStoreIsNotFound(t *testing.T) {
	s := openTestStore(t, Options{})
	if _, err := s.SampleExcluding(context.Background(), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.Latest(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Latest, got %v", err)
	}
}

func TestStore_RejectsEmptyText(t *testing.T) {
	s := openTestStore(t, Options{})
	if _, err := s.Insert(context.Background(), "p", "  "); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Fatalf("rows=%d, want 0", n)
	}
}

func TestStore_RetentionKeepsNewestTwenty(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()
	ids := make([]int64, 0, 21)
	for i := 0; i < 21; i++ {
		r, err := s.Insert(ctx, fmt.Sprintf("p%d", i), fmt.Sprintf("r%d", i))
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		ids = append(ids, r.ID)
		n, err := s.Count(ctx)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n > DefaultMaxRows {
			t.Fatalf("after insert %d: %d rows exceed cap", i, n)
		}
	}
	rows, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != DefaultMaxRows {
		t.Fatalf("rows=%d, want %d", len(rows), DefaultMaxRows)
	}
	for _, r := range rows {
		if r.ID == ids[0] {
			t.Fatalf("oldest row %d should have been evicted", ids[0])
		}
	}
	// Newest first, and exactly the last twenty inserted.
	for i, r := range rows {
		if want := ids[len(ids)-1-i]; r.ID != want {
			t.Fatalf("rows[%d].ID=%d, want %d", i, r.ID, want)
		}
	}
}

func TestStore_RetentionTieBreaksOnID(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := openTestStore(t, Options{MaxRows: 2, Now: func() time.Time { return fixed }})
	ctx := context.Background()
	first, _ := s.Insert(ctx, "a", "1")
	second, _ := s.Insert(ctx, "b", "2")
	third, err := s.Insert(ctx, "c", "3")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	rows, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != third.ID || rows[1].ID != second.ID {
		t.Fatalf("unexpected rows %+v (first=%d)", rows, first.ID)
	}
}

func TestStore_IDsStrictlyIncrease(t *testing.T) {
	s := openTestStore(t, Options{MaxRows: 1})
	ctx := context.Background()
	var last int64
	for i := 0; i < 5; i++ {
		r, err := s.Insert(ctx, "p", "r")
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		if r.ID <= last {
			t.Fatalf("id %d not greater than %d", r.ID, last)
		}
		last = r.ID
	}
}

func TestStore_SampleNeverReturnsExcluded(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 4; i++ {
		r, err := s.Insert(ctx, "p", fmt.Sprintf("r%d", i))
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
		ids = append(ids, r.ID)
	}
	excluded := ids[:3]
	for i := 0; i < 25; i++ {
		got, err := s.SampleExcluding(ctx, excluded)
		if err != nil {
			t.Fatalf("sample: %v", err)
		}
		if got.ID != ids[3] {
			t.Fatalf("sampled excluded id %d", got.ID)
		}
	}
	if _, err := s.SampleExcluding(ctx, ids); !errors.Is(err, ErrNotFound) {
		t.Fatalf("all excluded: expected ErrNotFound, got %v", err)
	}
}

func TestStore_NormalizesPrompt(t *testing.T) {
	s := openTestStore(t, Options{})
	// "e" + combining acute accent composes to U+00E9 under NFC.
	r, err := s.Insert(context.Background(), "  cafe\u0301 \n", "ok")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if r.Prompt != "caf\u00e9" {
		t.Fatalf("prompt=%q, want NFC-normalized and trimmed", r.Prompt)
	}
	got, _ := s.Latest(context.Background())
	if got.Prompt != "caf\u00e9" {
		t.Fatalf("stored prompt=%q", got.Prompt)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), " ", Options{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
