package activity

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/ledgerbridge/crossbook/types"
)

func rec(kind types.ActivityKind, orderID int64) types.ActivityRecord {
	return types.ActivityRecord{Kind: kind, Symbol: "BTC_USDT", OrderID: orderID, Timestamp: 1}
}

func TestRecentReturnsNewestInOrder(t *testing.T) {
	l, err := Open("", 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record(rec(types.ActivityOrderPlaced, 1))
	l.Record(rec(types.ActivityOrderPlaced, 2))
	l.Record(rec(types.ActivityOrderPlaced, 3))
	l.Record(rec(types.ActivityOrderPlaced, 4)) // evicts order 1

	got := l.Recent(0)
	if len(got) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(got))
	}
	if got[0].OrderID != 2 || got[2].OrderID != 4 {
		t.Fatalf("expected oldest-evicted order [2,3,4], got %+v", got)
	}
}

func TestRecentRespectsLimit(t *testing.T) {
	l, _ := Open("", 10)
	for i := int64(1); i <= 5; i++ {
		l.Record(rec(types.ActivityOrderPlaced, i))
	}
	got := l.Recent(2)
	if len(got) != 2 || got[0].OrderID != 4 || got[1].OrderID != 5 {
		t.Fatalf("expected last 2 records [4,5], got %+v", got)
	}
}

func TestRecordMirrorsToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.jsonl")

	l, err := Open(path, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record(rec(types.ActivityTradeExecuted, 0))
	l.Record(rec(types.ActivityTradeExecuted, 0))
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d", lines)
	}
}

func TestReadFileFiltersAndTrimsIndependentlyOfRing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "activity.jsonl")

	l, err := Open(path, 10)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record(types.ActivityRecord{Kind: types.ActivityOrderPlaced, Symbol: "BTC_USDT", OrderID: 1})
	l.Record(types.ActivityRecord{Kind: types.ActivityTradeExecuted, Symbol: "BTC_USDT", OrderID: 2})
	l.Record(types.ActivityRecord{Kind: types.ActivityTradeExecuted, Symbol: "ETH_USDT", OrderID: 3})
	l.Record(types.ActivityRecord{Kind: types.ActivityTradeExecuted, Symbol: "BTC_USDT", OrderID: 4})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A freshly opened Log over the same path starts with an empty ring,
	// so ReadFile results here can only have come from the file itself.
	reopened, err := Open(path, 10)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.Recent(0); len(got) != 0 {
		t.Fatalf("expected reopened log's ring to start empty, got %+v", got)
	}

	all, err := reopened.ReadFile("", 0, "")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected all 4 records, got %d", len(all))
	}

	trades, err := reopened.ReadFile("BTC_USDT", 0, types.ActivityTradeExecuted)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(trades) != 2 || trades[0].OrderID != 2 || trades[1].OrderID != 4 {
		t.Fatalf("expected BTC_USDT trade_executed records [2,4], got %+v", trades)
	}

	limited, err := reopened.ReadFile("", 2, "")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(limited) != 2 || limited[0].OrderID != 3 || limited[1].OrderID != 4 {
		t.Fatalf("expected last 2 records [3,4], got %+v", limited)
	}
}

func TestReadFileWithNoPathReturnsEmpty(t *testing.T) {
	l, err := Open("", 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, err := l.ReadFile("BTC_USDT", 10, "")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no history without a file path, got %+v", got)
	}
}

func TestOpenWithEmptyPathSkipsFile(t *testing.T) {
	l, err := Open("", 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.Record(rec(types.ActivityOrderCancelled, 1))
	if err := l.Close(); err != nil {
		t.Fatalf("Close on no-file log should be a no-op, got %v", err)
	}
}
