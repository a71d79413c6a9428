package state

import (
	"time"

	"github.com/robfig/cron/v3"

	"pipesync/internal/logging"
	"pipesync/pkg/models"
)

// MidnightSpec fires at local midnight.
const MidnightSpec = "0 0 * * *"

// Rollover resets routines at the day boundary while a session stays open.
type Rollover struct {
	store  *Store
	logger *logging.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewRollover(store *Store, logger *logging.Logger) *Rollover {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Rollover{
		store:  store,
		logger: logger.With("component", "rollover"),
		cron:   cron.New(),
		now:    time.Now,
	}
}

// Start schedules the midnight job and begins the scheduler.
func (r *Rollover) Start() error {
	if _, err := r.cron.AddFunc(MidnightSpec, r.Run); err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Run resets routines against the current date.
func (r *Rollover) Run() {
	today := models.DateOf(r.now())
	if r.store.ResetRoutines(today) {
		r.logger.Info("routines reset for new day", "date", today)
	}
}

// Stop halts the scheduler and waits for a running job.
func (r *Rollover) Stop() {
	<-r.cron.Stop().Done()
}
