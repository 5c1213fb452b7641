package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestDo_Success(t *testing.T) {
	s := &recordingSleeper{}
	p := Default()
	p.Sleep = s.sleep

	calls := 0
	v, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("Do = %q, %v", v, err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(s.waits) != 0 {
		t.Errorf("waits = %v, want none", s.waits)
	}
}

func TestDo_BackoffSchedule(t *testing.T) {
	tests := []struct {
		name      string
		failFirst int
		wantCalls int
		wantWaits []time.Duration
		wantErr   bool
	}{
		{"one transient failure", 1, 2, []time.Duration{500 * time.Millisecond}, false},
		{"two transient failures", 2, 3, []time.Duration{500 * time.Millisecond, time.Second}, false},
		{"exhausted", 10, 4, []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSleeper{}
			p := Default()
			p.Sleep = s.sleep

			calls := 0
			_, err := Do(context.Background(), p, func(context.Context) (int, error) {
				calls++
				if calls <= tt.failFirst {
					return 0, errors.New("transient")
				}
				return calls, nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if len(s.waits) != len(tt.wantWaits) {
				t.Fatalf("waits = %v, want %v", s.waits, tt.wantWaits)
			}
			for i := range s.waits {
				if s.waits[i] != tt.wantWaits[i] {
					t.Errorf("wait[%d] = %v, want %v", i, s.waits[i], tt.wantWaits[i])
				}
			}
		})
	}
}

func TestDo_ReturnsLastError(t *testing.T) {
	p := Policy{Retries: 2, MinDelay: time.Millisecond, Sleep: (&recordingSleeper{}).sleep}
	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("attempt " + string(rune('0'+calls)))
	})
	if err == nil || err.Error() != "attempt 3" {
		t.Errorf("err = %v, want attempt 3", err)
	}
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("not found")
	s := &recordingSleeper{}
	p := Default()
	p.Sleep = s.sleep

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{Retries: 3, MinDelay: time.Hour}
	calls := 0
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Errorf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOnRetry(t *testing.T) {
	var seen []int
	p := Policy{
		Retries:  3,
		MinDelay: 10 * time.Millisecond,
		Sleep:    (&recordingSleeper{}).sleep,
		OnRetry:  func(attempt int, _ time.Duration, _ error) { seen = append(seen, attempt) },
	}
	calls := 0
	Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("again")
		}
		return 0, nil
	})
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", seen)
	}
}
