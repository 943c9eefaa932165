package util

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var cst = time.FixedZone("CST", 8*3600)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "json").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %s", buf.String())
	}
	newLogger(&buf, "warn", "json").Warn("shown", "handle", "QMT.1")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json handler output not JSON: %v", err)
	}
	if rec["handle"] != "QMT.1" {
		t.Errorf("handle = %v, want QMT.1", rec["handle"])
	}

	buf.Reset()
	newLogger(&buf, "bogus", "text").Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text handler output = %q, want msg=hello", buf.String())
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait should not block: %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	_ = rl.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("Wait should fail once the context expires")
	}
}

func TestTradingCalendarIsMarketOpen(t *testing.T) {
	cal := NewTradingCalendar(cst)
	tests := []struct {
		at   time.Time
		want bool
	}{
		{time.Date(2024, 1, 5, 9, 29, 0, 0, cst), false},
		{time.Date(2024, 1, 5, 9, 30, 0, 0, cst), true},
		{time.Date(2024, 1, 5, 11, 29, 59, 0, cst), true},
		{time.Date(2024, 1, 5, 12, 0, 0, 0, cst), false},
		{time.Date(2024, 1, 5, 14, 59, 0, 0, cst), true},
		{time.Date(2024, 1, 5, 15, 0, 0, 0, cst), false},
		{time.Date(2024, 1, 6, 10, 0, 0, 0, cst), false}, // Saturday
		{time.Date(2024, 1, 5, 2, 0, 0, 0, time.UTC), true},
	}
	for _, tt := range tests {
		if got := cal.IsMarketOpen(tt.at); got != tt.want {
			t.Errorf("IsMarketOpen(%v) = %v, want %v", tt.at, got, tt.want)
		}
	}
}

func TestTradingCalendarNextOpenClose(t *testing.T) {
	cal := NewTradingCalendar(cst)

	got := cal.NextOpen(time.Date(2024, 1, 5, 12, 0, 0, 0, cst))
	want := time.Date(2024, 1, 5, 13, 0, 0, 0, cst)
	if !got.Equal(want) {
		t.Errorf("NextOpen at lunch = %v, want %v", got, want)
	}

	got = cal.NextOpen(time.Date(2024, 1, 5, 16, 0, 0, 0, cst))
	want = time.Date(2024, 1, 8, 9, 30, 0, 0, cst)
	if !got.Equal(want) {
		t.Errorf("NextOpen after Friday close = %v, want %v", got, want)
	}

	got = cal.NextClose(time.Date(2024, 1, 5, 10, 0, 0, 0, cst))
	want = time.Date(2024, 1, 5, 11, 30, 0, 0, cst)
	if !got.Equal(want) {
		t.Errorf("NextClose = %v, want %v", got, want)
	}
}

func TestRateLimiterBurstAndUnlimited(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("Wait %d within burst: %v", i, err)
		}
	}

	unlimited := NewRateLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if err := unlimited.Wait(context.Background()); err != nil {
			t.Fatalf("unlimited Wait: %v", err)
		}
	}
}
