package rescan

import "time"

// State tracks a batch through its one-shot lifecycle.
type State string

const (
	// StatePending means the batch is enqueued with run_at in the future.
	StatePending State = "pending"
	// StateFired means the job has been dispatched. A fired batch runs to
	// completion; there is no mid-flight cancellation.
	StateFired State = "fired"
	// StateReconciled means every tracked record received its point B.
	StateReconciled State = "reconciled"
	// StatePartial means some URLs returned nothing; those records stay
	// unreconciled and eligible for a later retry.
	StatePartial State = "partial"
	// StateFailed means the collector call failed entirely. Point A data is
	// left untouched.
	StateFailed State = "failed"
	// StateCancelled means the owner tore the batch down before it fired.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the batch can no longer fire.
func (s State) Terminal() bool {
	switch s {
	case StateReconciled, StatePartial, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Batch is one scheduled point B acquisition for a set of URLs.
type Batch struct {
	ID           int64
	BatchID      string
	OwnerContext string
	URLs         []string
	RunAt        time.Time
	State        State
	// Error holds the failure detail for failed batches.
	Error     string
	FiredAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
