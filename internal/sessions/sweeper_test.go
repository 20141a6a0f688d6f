package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/chatcore/internal/storage"
)

func TestNewSweeper_Schedules(t *testing.T) {
	store := NewStore(storage.NewMemoryStore(), DefaultConfig())
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		expr    string
		wantErr bool
		next    time.Time
	}{
		{expr: "", next: base.Add(time.Hour)},
		{expr: "@every 15m", next: base.Add(15 * time.Minute)},
		{expr: "0 */30 * * * *", next: base.Add(30 * time.Minute)},
		{expr: "*/5 * * * *", next: base.Add(5 * time.Minute)},
		{expr: "not a schedule", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			sweeper, err := NewSweeper(store, tt.expr, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSweeper() error = %v", err)
			}
			if got := sweeper.Next(base); !got.Equal(tt.next) {
				t.Errorf("Next() = %v, want %v", got, tt.next)
			}
		})
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	store := NewStore(storage.NewMemoryStore(), DefaultConfig())
	sweeper, err := NewSweeper(store, "@every 1s", nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sweeper.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSweeper_SweepEvictsExpired(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(storage.NewMemoryStore(), Config{Timeout: time.Minute}, WithClock(clock.Now))
	session, _ := store.Create(context.Background(), "alice")
	clock.Advance(time.Hour)

	sweeper, err := NewSweeper(store, "@every 1h", nil)
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	sweeper.ctx = context.Background()
	sweeper.sweep()

	if store.Exists(context.Background(), session.ID) {
		t.Error("expired session should be swept")
	}
}
