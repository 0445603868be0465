package registry

import (
	"errors"
	"fmt"
	"time"
)

// JobType identifies which catalog domain a schedule syncs
type JobType string

const (
	JobProducts  JobType = "products"
	JobInventory JobType = "inventory"
	JobOrders    JobType = "orders"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobProducts, JobInventory, JobOrders:
		return true
	}
	return false
}

// ConflictPolicy decides which side wins when local and remote data diverge
type ConflictPolicy string

const (
	ConflictLocalWins  ConflictPolicy = "local_wins"
	ConflictRemoteWins ConflictPolicy = "remote_wins"
)

// Options tunes how a schedule's fires are dispatched
type Options struct {
	BatchSize      int            `toml:"batch_size"`
	MaxRetries     int            `toml:"max_retries"`
	Priority       int            `toml:"priority"`
	ConflictPolicy ConflictPolicy `toml:"conflict_policy"`
}

// ScheduleConfig is one named, cron-triggered sync configuration.
// NextRunAt is recomputed on creation, on any cron change, and after every
// fire; while the schedule is enabled it never points to the past.
type ScheduleConfig struct {
	ID        string
	Name      string
	TenantID  string
	StoreID   string // optional: connected store within the tenant
	Target    string // marketplace the sync pushes to
	JobType   JobType
	CronExpr  string
	Enabled   bool
	Options   Options
	CreatedAt time.Time
	UpdatedAt time.Time
	LastRunAt *time.Time
	NextRunAt time.Time
}

// Patch is a partial update for UpdateSchedule; nil fields are left alone
type Patch struct {
	Name     *string
	StoreID  *string
	Target   *string
	JobType  *JobType
	CronExpr *string
	Enabled  *bool
	Options  *Options
}

// ErrNotFound is returned for operations against unknown schedule ids
var ErrNotFound = errors.New("registry: schedule not found")

// ScheduleStore is the persistence repository the registry is injected with.
// Implementations must return ErrNotFound (possibly wrapped) for unknown ids.
type ScheduleStore interface {
	Insert(s *ScheduleConfig) error
	Update(s *ScheduleConfig) error
	Get(id string) (*ScheduleConfig, error)
	Delete(id string) error
	List() ([]*ScheduleConfig, error)
}

// Stats is the registry's polling snapshot
type Stats struct {
	TotalSchedules    int
	EnabledSchedules  int
	DisabledSchedules int
	ActiveTimers      int
	NextRuns          []NextRun
	Inbox             InboxStats
}

// NextRun is one upcoming fire in Stats, soonest first
type NextRun struct {
	ScheduleID string
	Name       string
	At         time.Time
}

func validateSchedule(s *ScheduleConfig) error {
	if s.Name == "" {
		return fmt.Errorf("schedule name must not be empty")
	}
	if s.TenantID == "" {
		return fmt.Errorf("schedule tenant id must not be empty")
	}
	if !s.JobType.Valid() {
		return fmt.Errorf("unknown job type %q", s.JobType)
	}
	return nil
}
