package runqueue

import "github.com/lmx-project/lmx/internal/domain"

// sqliteDB is the subset of sqlite.DB the durable backend depends on,
// narrowed for testability.
type sqliteDB interface {
	InsertRun(run domain.AgentRun) (runID string, existed bool, err error)
	ClaimNextRun() (*domain.AgentRun, error)
	UpdateRunStatus(runID string, status domain.RunStatus, result map[string]any, runErr string) error
	GetRun(runID string) (*domain.AgentRun, error)
	ListRuns(limit int) ([]domain.AgentRun, error)
	ReenqueueOrphanedRuns() (int, error)
}

// SQLiteBackend is the durable RunScheduler backend (C12): rows persisted
// in the shared sqlite.DB's runs table, surviving process restart with
// FIFO-within-priority preserved via enqueued_at ordering.
type SQLiteBackend struct {
	db sqliteDB
}

// NewSQLiteBackend wraps a sqlite.DB (or any type satisfying sqliteDB, for
// tests) as a durable runqueue Backend.
func NewSQLiteBackend(db sqliteDB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

func (b *SQLiteBackend) Enqueue(run domain.AgentRun) (string, bool, error) {
	return b.db.InsertRun(run)
}

func (b *SQLiteBackend) Claim() (*domain.AgentRun, error) {
	return b.db.ClaimNextRun()
}

func (b *SQLiteBackend) Complete(runID string, status domain.RunStatus, result map[string]any, errMsg string) error {
	return b.db.UpdateRunStatus(runID, status, result, errMsg)
}

func (b *SQLiteBackend) Get(runID string) (*domain.AgentRun, error) {
	return b.db.GetRun(runID)
}

func (b *SQLiteBackend) List(limit int) ([]domain.AgentRun, error) {
	return b.db.ListRuns(limit)
}

func (b *SQLiteBackend) ReenqueueOrphaned() (int, error) {
	return b.db.ReenqueueOrphanedRuns()
}
