package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// Schedule holds the intervals of the periodic jobs
type Schedule struct {
	RenewalInterval    time.Duration
	SweepInterval      time.Duration
	RevocationInterval time.Duration
	ReconcileInterval  time.Duration
	ExportInterval     time.Duration
}

// DefaultSchedule is used for every interval left at zero
var DefaultSchedule = Schedule{
	RenewalInterval:    time.Minute,
	SweepInterval:      5 * time.Minute,
	RevocationInterval: 15 * time.Minute,
	ReconcileInterval:  time.Hour,
	ExportInterval:     24 * time.Hour,
}

// Manager runs the queue workers and the tickers that feed them
type Manager struct {
	queue    *Queue
	tasks    *Tasks
	schedule Schedule
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewManager(queue *Queue, tasks *Tasks, schedule Schedule) *Manager {
	if schedule.RenewalInterval <= 0 {
		schedule.RenewalInterval = DefaultSchedule.RenewalInterval
	}
	if schedule.SweepInterval <= 0 {
		schedule.SweepInterval = DefaultSchedule.SweepInterval
	}
	if schedule.RevocationInterval <= 0 {
		schedule.RevocationInterval = DefaultSchedule.RevocationInterval
	}
	if schedule.ReconcileInterval <= 0 {
		schedule.ReconcileInterval = DefaultSchedule.ReconcileInterval
	}
	if schedule.ExportInterval <= 0 {
		schedule.ExportInterval = DefaultSchedule.ExportInterval
	}
	tasks.Register(queue)
	return &Manager{
		queue:    queue,
		tasks:    tasks,
		schedule: schedule,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	m.queue.Start()

	if m.tasks.Subscriptions != nil {
		m.every(m.schedule.RenewalInterval, "renewal", m.scheduleRenewals)
		m.every(m.schedule.SweepInterval, "sweep", func(ctx context.Context) error {
			_, _, err := m.queue.EnqueueUnique(ctx, JobTypeSubscriptionSweep, "sweep", nil)
			return err
		})
	}
	if m.tasks.Tokens != nil {
		m.every(m.schedule.RevocationInterval, "revocation gc", func(ctx context.Context) error {
			_, _, err := m.queue.EnqueueUnique(ctx, JobTypeRevocationGC, "gc", nil)
			return err
		})
	}
	if m.tasks.Ledger != nil {
		m.every(m.schedule.ReconcileInterval, "reconcile", func(ctx context.Context) error {
			_, _, err := m.queue.EnqueueUnique(ctx, JobTypeLedgerReconcile, "all", nil)
			return err
		})
	}
	if m.tasks.Exporter != nil {
		m.every(m.schedule.ExportInterval, "export", func(ctx context.Context) error {
			_, err := m.ScheduleExport(ctx, m.now().UTC().AddDate(0, 0, -1))
			return err
		})
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	// Signal tickers to stop
	close(m.stopCh)
	m.running = false
	m.wg.Wait()

	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) every(interval time.Duration, name string, fn func(ctx context.Context) error) {
	stopCh := m.stopCh
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		log.Infof("[JobQueue Manager] Started %s ticker (interval: %s)", name, interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				log.Infof("[JobQueue Manager] %s ticker stopping", name)
				return
			case <-ticker.C:
				if err := fn(context.Background()); err != nil {
					log.Errorf("[JobQueue Manager] %s tick failed: %v", name, err)
				}
			}
		}
	}()
}

func (m *Manager) scheduleRenewals(ctx context.Context) error {
	n, err := m.tasks.EnqueueDueRenewals(ctx, m.queue)
	if n > 0 {
		log.Infof("[JobQueue Manager] Enqueued %d subscription renewals", n)
	}
	return err
}

// ScheduleRenewal queues a renewal for one subscription outside the ticker.
func (m *Manager) ScheduleRenewal(ctx context.Context, subscriptionID string) (*Job, error) {
	return m.queue.EnqueueJob(ctx, JobTypeSubscriptionRenewal, SubscriptionRenewalPayload{SubscriptionID: subscriptionID}.ToMap())
}

// ScheduleExport queues the export of one UTC day. The bool is false when
// that day is already queued.
func (m *Manager) ScheduleExport(ctx context.Context, day time.Time) (bool, error) {
	d := day.UTC().Format(dayLayout)
	_, ok, err := m.queue.EnqueueUnique(ctx, JobTypeLedgerExport, d, LedgerExportPayload{Day: d}.ToMap())
	return ok, err
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats is a snapshot of the queue for the admin API
type Stats struct {
	Running    bool                `json:"running"`
	Pending    int64               `json:"pending"`
	Processing int64               `json:"processing"`
	Totals     map[JobStatus]int64 `json:"totals"`
}

// Stats reads queue sizes and the per-status counters from redis
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	pending, err := m.queue.GetQueueSize(ctx)
	if err != nil {
		return nil, err
	}
	processing, err := m.queue.GetProcessingSize(ctx)
	if err != nil {
		return nil, err
	}
	totals, err := m.queue.GetJobStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Running:    m.IsRunning(),
		Pending:    pending,
		Processing: processing,
		Totals:     totals,
	}, nil
}
