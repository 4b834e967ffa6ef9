package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "albumbot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "history.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "  NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRecordAndSummary(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entries := []DispatchEntry{
		{At: now, UserID: 1, ChatID: 1, Items: 3, Grouped: true, OK: true},
		{At: now, UserID: 1, ChatID: 1, Items: 1, OK: true},
		{At: now, UserID: 2, ChatID: 2, Items: 5, Grouped: true, OK: false, Error: "flood wait"},
		// Outside the summary window.
		{At: now.Add(-48 * time.Hour), UserID: 3, ChatID: 3, Items: 2, Grouped: true, OK: true},
	}
	for _, e := range entries {
		if err := st.RecordDispatch(ctx, e); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}

	sum, err := st.Summary(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	want := Summary{Dispatches: 3, Items: 9, Failures: 1, Users: 2}
	if sum != want {
		t.Fatalf("Summary = %+v, want %+v", sum, want)
	}
}

func TestUserTotals(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for _, e := range []DispatchEntry{
		{At: now, UserID: 7, ChatID: 7, Items: 4, Grouped: true, OK: true},
		{At: now.Add(-72 * time.Hour), UserID: 7, ChatID: 7, Items: 1, OK: false, Error: "timeout"},
		{At: now, UserID: 8, ChatID: 8, Items: 2, Grouped: true, OK: true},
	} {
		if err := st.RecordDispatch(ctx, e); err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}

	got, err := st.UserTotals(ctx, 7)
	if err != nil {
		t.Fatalf("UserTotals: %v", err)
	}
	want := UserTotals{Dispatches: 2, Items: 5, Failures: 1}
	if got != want {
		t.Fatalf("UserTotals = %+v, want %+v", got, want)
	}

	empty, err := st.UserTotals(ctx, 999)
	if err != nil {
		t.Fatalf("UserTotals(999): %v", err)
	}
	if empty != (UserTotals{}) {
		t.Fatalf("UserTotals(999) = %+v, want zero", empty)
	}
}
