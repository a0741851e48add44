package crawler

// SlotStore persists named JSON documents. Slots are overwritten whole
// on each run: teams, players, visualization and one slot per team id.
type SlotStore interface {
	PutSlot(id string, payload any) error
	GetSlot(id string) ([]byte, error)
}

// RobotsStore persists parsed robots.txt rules so the cache survives
// restarts.
type RobotsStore interface {
	LoadRobotsCache() (map[string]RobotsEntry, error)
	SaveRobotsEntry(origin string, entry RobotsEntry) error
}

// RunStore records terminal run outcomes.
type RunStore interface {
	SaveRun(rec RunRecord) error
	LatestRun() (*RunRecord, error)
}

// Store is the full persistence surface a session depends on.
type Store interface {
	SlotStore
	RobotsStore
	RunStore
	Close() error
}
