package ladder

import "fmt"

// DefaultCapacities mirrors the shipped game config: ten levels, each holding
// half the players of the one below it.
var DefaultCapacities = []int{1024, 512, 256, 128, 64, 32, 16, 8, 4, 2}

// LevelTable is the static level configuration. Built once at startup,
// read-only afterwards.
type LevelTable struct {
	capacities []int // index 0 = level 1
}

// NewLevelTable validates that every capacity is positive and that capacities
// never increase with level (higher levels are always scarcer or equal).
func NewLevelTable(capacities []int) (*LevelTable, error) {
	if len(capacities) == 0 {
		return nil, fmt.Errorf("level table needs at least one level")
	}
	for i, c := range capacities {
		if c <= 0 {
			return nil, fmt.Errorf("level %d: capacity must be positive, got %d", i+1, c)
		}
		if i > 0 && c > capacities[i-1] {
			return nil, fmt.Errorf("level %d: capacity %d exceeds level %d's %d", i+1, c, i, capacities[i-1])
		}
	}
	cp := make([]int, len(capacities))
	copy(cp, capacities)
	return &LevelTable{capacities: cp}, nil
}

// DefaultLevelTable builds the standard 10-level table.
func DefaultLevelTable() *LevelTable {
	t, _ := NewLevelTable(DefaultCapacities)
	return t
}

func (t *LevelTable) MaxLevel() int {
	return len(t.capacities)
}

func (t *LevelTable) IsValidLevel(n int) bool {
	return n >= 1 && n <= len(t.capacities)
}

// CapacityOf returns the player-slot capacity of a level.
func (t *LevelTable) CapacityOf(n int) (int, error) {
	if !t.IsValidLevel(n) {
		return 0, fmt.Errorf("level %d: %w", n, ErrNoSuchLevel)
	}
	return t.capacities[n-1], nil
}
