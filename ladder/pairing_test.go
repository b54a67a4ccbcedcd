package ladder

import (
	"errors"
	"testing"
)

func newTestEngine(t *testing.T, capacities ...int) (*PairingEngine, *Registry, *matchTable) {
	t.Helper()
	if len(capacities) == 0 {
		capacities = []int{8, 4, 2}
	}
	table := mustTable(t, capacities...)
	reg := NewRegistry(table, 1000)
	matches := newMatchTable()
	return NewPairingEngine(reg, matches, table, nil), reg, matches
}

func TestEnqueuePairsLongestWaitingFirst(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	for _, id := range []string{"first", "second", "third"} {
		reg.GetOrCreate(id)
	}

	m, pos, err := engine.Enqueue("first")
	if err != nil || m != nil || pos != 1 {
		t.Fatalf("Enqueue(first) = %v, %d, %v; want queued at position 1", m, pos, err)
	}
	m, pos, err = engine.Enqueue("second")
	if err != nil || m == nil {
		t.Fatalf("Enqueue(second) = %v, %d, %v; want a match", m, pos, err)
	}
	if m.Player1ID != "first" || m.Player2ID != "second" {
		t.Fatalf("paired %s vs %s; want first vs second (arrival order)", m.Player1ID, m.Player2ID)
	}
	if m.Status != StatusPending || m.Level != 1 {
		t.Fatalf("match = %+v; want pending at level 1", m)
	}

	for _, id := range []string{"first", "second"} {
		if s, _ := reg.Standing(id); s.State != StateInMatch {
			t.Errorf("player %s state = %s, want in_match", id, s.State)
		}
	}

	if m, pos, err = engine.Enqueue("third"); err != nil || m != nil || pos != 1 {
		t.Fatalf("Enqueue(third) = %v, %d, %v; want queued at position 1", m, pos, err)
	}
}

func TestEnqueueRejectsBusyPlayers(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	for _, id := range []string{"a", "b"} {
		reg.GetOrCreate(id)
	}

	engine.Enqueue("a")
	if _, _, err := engine.Enqueue("a"); !errors.Is(err, ErrAlreadyQueued) {
		t.Fatalf("second enqueue while queued: error = %v, want ErrAlreadyQueued", err)
	}

	engine.Enqueue("b") // pairs a vs b
	if _, _, err := engine.Enqueue("a"); !errors.Is(err, ErrAlreadyInMatch) {
		t.Fatalf("enqueue while in match: error = %v, want ErrAlreadyInMatch", err)
	}
}

func TestPairingNeverCrossesLevels(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	reg.GetOrCreate("lvl1")
	reg.GetOrCreate("lvl2")
	if _, err := reg.TransitionLevel("lvl2", 2); err != nil {
		t.Fatalf("TransitionLevel: %v", err)
	}

	m1, _, _ := engine.Enqueue("lvl1")
	m2, _, _ := engine.Enqueue("lvl2")
	if m1 != nil || m2 != nil {
		t.Fatalf("players at different levels were paired: %v / %v", m1, m2)
	}
	if n, _ := engine.QueueLength(1); n != 1 {
		t.Errorf("QueueLength(1) = %d, want 1", n)
	}
	if n, _ := engine.QueueLength(2); n != 1 {
		t.Errorf("QueueLength(2) = %d, want 1", n)
	}
}

func TestWithdraw(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	for _, id := range []string{"a", "b"} {
		reg.GetOrCreate(id)
	}

	// Withdrawing while idle is an error.
	if _, err := engine.Withdraw("a"); !errors.Is(err, ErrNotQueued) {
		t.Fatalf("Withdraw while idle: error = %v, want ErrNotQueued", err)
	}

	engine.Enqueue("a")
	if _, err := engine.Withdraw("a"); err != nil {
		t.Fatalf("Withdraw while queued: %v", err)
	}
	if s, _ := reg.Standing("a"); s.State != StateIdle {
		t.Fatalf("state after withdraw = %s, want idle", s.State)
	}
	if n, _ := engine.QueueLength(1); n != 0 {
		t.Fatalf("QueueLength after withdraw = %d, want 0", n)
	}

	// Withdrawn player pairs normally afterwards.
	engine.Enqueue("a")
	if m, _, _ := engine.Enqueue("b"); m == nil {
		t.Fatal("expected pairing after re-enqueue")
	}
}

func TestWithdrawLosesRaceToPairing(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	for _, id := range []string{"a", "b"} {
		reg.GetOrCreate(id)
	}
	engine.Enqueue("a")
	m, _, _ := engine.Enqueue("b")
	if m == nil {
		t.Fatal("expected a match")
	}

	// Pairing already captured the player; the withdrawal redirects to the
	// just-created match.
	got, err := engine.Withdraw("a")
	if !errors.Is(err, ErrAlreadyPairing) {
		t.Fatalf("Withdraw after pairing: error = %v, want ErrAlreadyPairing", err)
	}
	if got.ID != m.ID {
		t.Fatalf("redirected to match %s, want %s", got.ID, m.ID)
	}
}

func TestFIFOOrderAcrossManyPlayers(t *testing.T) {
	engine, reg, _ := newTestEngine(t, 64)
	ids := []string{"p0", "p1", "p2", "p3", "p4", "p5"}
	for _, id := range ids {
		reg.GetOrCreate(id)
	}

	var matches []*Match
	for _, id := range ids {
		if m, _, err := engine.Enqueue(id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		} else if m != nil {
			matches = append(matches, m)
		}
	}

	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3", len(matches))
	}
	wantPairs := [][2]string{{"p0", "p1"}, {"p2", "p3"}, {"p4", "p5"}}
	for i, m := range matches {
		if m.Player1ID != wantPairs[i][0] || m.Player2ID != wantPairs[i][1] {
			t.Errorf("match %d paired %s vs %s, want %s vs %s",
				i, m.Player1ID, m.Player2ID, wantPairs[i][0], wantPairs[i][1])
		}
	}
}
