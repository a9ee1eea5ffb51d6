package resilience

import (
	"errors"
	"testing"
)

func TestCall_FirstHealthyMemberWins(t *testing.T) {
	t.Parallel()
	g := NewGroup[string](CircuitBreakerConfig{MaxFailures: 1})
	g.Add("eu2", "wss://eu2")
	g.Add("us2", "wss://us2")

	var tried []string
	got, err := Call(g, func(name, url string) (string, error) {
		tried = append(tried, name)
		if name == "eu2" {
			return "", errTest
		}
		return url, nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != "wss://us2" {
		t.Errorf("got %q", got)
	}
	if len(tried) != 2 {
		t.Errorf("tried = %v", tried)
	}

	// eu2 is now open and skipped without being called.
	tried = nil
	_, _ = Call(g, func(name, url string) (string, error) {
		tried = append(tried, name)
		return url, nil
	})
	if len(tried) != 1 || tried[0] != "us2" {
		t.Errorf("second call tried = %v, want [us2]", tried)
	}
	if s := g.States()["eu2"]; s != StateOpen {
		t.Errorf("eu2 state = %v, want open", s)
	}
}

func TestCall_AllFail(t *testing.T) {
	t.Parallel()
	g := NewGroup[int](CircuitBreakerConfig{})
	g.Add("a", 1)
	g.Add("b", 2)

	_, err := Call(g, func(string, int) (int, error) { return 0, errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Errorf("err = %v, want wrapped errTest", err)
	}
}

func TestCall_Empty(t *testing.T) {
	t.Parallel()
	g := NewGroup[int](CircuitBreakerConfig{})
	if _, err := Call(g, func(string, int) (int, error) { return 1, nil }); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len = %d", g.Len())
	}
}

func TestCall_NonTrippingErrorStops(t *testing.T) {
	t.Parallel()
	errFatal := errors.New("unsupported language")
	g := NewGroup[int](CircuitBreakerConfig{Trips: func(err error) bool { return !errors.Is(err, errFatal) }})
	g.Add("a", 1)
	g.Add("b", 2)

	calls := 0
	_, err := Call(g, func(string, int) (int, error) {
		calls++
		return 0, errFatal
	})
	if !errors.Is(err, errFatal) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare errFatal", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
