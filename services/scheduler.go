package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"raid-system/config"
	"raid-system/models"
	"raid-system/monitoring"
)

const (
	actionPriorityExpiry = "priority_expiry"
	actionReminder       = "reminder"
	actionCleanup        = "cleanup"
)

// timerSpec is one derived wake-up. Timers are never persisted: they are
// recomputed from raid rows, so a restart cannot drift from the store.
type timerSpec struct {
	action string
	runAt  time.Time
}

// SchedulerService arms time-triggered actions for every active raid and
// re-derives all of them on process start. Reminder dispatch is guarded
// by a Redis set-if-not-exists claim so two recovering processes cannot
// both send it.
type SchedulerService struct {
	Redis    *redis.Client
	Config   *config.Config
	store    RaidStore
	notifier Notifier
	cleaner  ArtifactCleaner
	promoter Promoter
	monitor  *monitoring.Monitor

	sched gocron.Scheduler
	now   Clock
}

func NewSchedulerService(
	redisClient *redis.Client,
	cfg *config.Config,
	st RaidStore,
	notifier Notifier,
	cleaner ArtifactCleaner,
	promoter Promoter,
	monitor *monitoring.Monitor,
) (*SchedulerService, error) {
	return newSchedulerService(clockwork.NewRealClock(), redisClient, cfg, st, notifier, cleaner, promoter, monitor)
}

// newSchedulerService takes the clock explicitly so gocron and the
// past-time check in scheduleAt always judge run times against the
// same source.
func newSchedulerService(
	clock clockwork.Clock,
	redisClient *redis.Client,
	cfg *config.Config,
	st RaidStore,
	notifier Notifier,
	cleaner ArtifactCleaner,
	promoter Promoter,
	monitor *monitoring.Monitor,
) (*SchedulerService, error) {
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &SchedulerService{
		Redis:    redisClient,
		Config:   cfg,
		store:    st,
		notifier: notifier,
		cleaner:  cleaner,
		promoter: promoter,
		monitor:  monitor,
		sched:    sched,
		now:      clock.Now,
	}, nil
}

func (s *SchedulerService) Start() {
	s.sched.Start()
}

func (s *SchedulerService) Shutdown() error {
	return s.sched.Shutdown()
}

// RestoreSchedules scans all active raids and re-arms their timers. Runs
// on every process start; also safe to call again at any time because
// every fired action re-checks durable state.
func (s *SchedulerService) RestoreSchedules(ctx context.Context) error {
	raids, err := s.store.ListActiveRaids(ctx)
	if err != nil {
		return err
	}

	armed := 0
	for i := range raids {
		armed += s.ScheduleRaid(&raids[i])
	}
	log.Printf("scheduler: restored %d timer(s) across %d raid(s)", armed, len(raids))
	return nil
}

// ScheduleRaid arms the raid's derived timers and returns how many were
// armed. A run time already in the past fires immediately (catch-up);
// the reminder still has to win its claim, so catching up twice stays a
// single dispatch.
func (s *SchedulerService) ScheduleRaid(raid *models.Raid) int {
	raidID := raid.ID
	specs := deriveTimers(raid, s.Config)
	for _, spec := range specs {
		action := spec.action
		s.scheduleAt(spec.runAt, func() {
			s.fire(action, raidID)
		})
	}
	return len(specs)
}

// deriveTimers computes (run_at, action) pairs for one raid.
func deriveTimers(raid *models.Raid, cfg *config.Config) []timerSpec {
	var specs []timerSpec
	if raid.IsPriority && raid.PriorityUntil != nil {
		specs = append(specs, timerSpec{actionPriorityExpiry, *raid.PriorityUntil})
	}
	specs = append(specs, timerSpec{actionReminder, raid.ScheduledFor.Add(-cfg.ReminderLead)})

	cleanupAt := raid.ScheduledFor.
		Add(time.Duration(raid.DurationHours) * time.Hour).
		Add(cfg.CleanupGrace)
	specs = append(specs, timerSpec{actionCleanup, cleanupAt})
	return specs
}

func (s *SchedulerService) scheduleAt(runAt time.Time, task func()) {
	if !runAt.After(s.now()) {
		go task()
		return
	}
	_, err := s.sched.NewJob(
		gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(runAt)),
		gocron.NewTask(task),
	)
	if err != nil {
		// runAt slipped into the past between the check and NewJob.
		log.Printf("scheduler: arm timer at %s: %v", runAt, err)
		go task()
	}
}

func (s *SchedulerService) fire(action, raidID string) {
	ctx := context.Background()
	s.monitor.TrackTimerFired(action)

	switch action {
	case actionPriorityExpiry:
		s.firePriorityExpiry(ctx, raidID)
	case actionReminder:
		s.fireReminder(ctx, raidID)
	case actionCleanup:
		s.fireCleanup(ctx, raidID)
	}
}

// firePriorityExpiry reruns promotion once the priority window lapses, so
// held-back reserves get seats without waiting for the next queue event.
func (s *SchedulerService) firePriorityExpiry(ctx context.Context, raidID string) {
	if err := s.promoter.RecomputePromotions(ctx, raidID); err != nil {
		log.Printf("scheduler: priority expiry %s: %v", raidID, err)
	}
}

// fireReminder DMs current participants shortly before start. The claim
// key guarantees a single dispatch even when two processes recover the
// same raid; the active check at fire time short-circuits cancelled
// raids.
func (s *SchedulerService) fireReminder(ctx context.Context, raidID string) {
	raid, err := s.store.GetRaid(ctx, raidID)
	if err != nil {
		log.Printf("scheduler: reminder %s: %v", raidID, err)
		return
	}
	if !raid.IsActive {
		return
	}

	// The raid may have been pushed back since this timer was armed;
	// the row is authoritative, the armed time is not. Re-arm and bail
	// before taking the claim so an early fire cannot burn it.
	runAt := raid.ScheduledFor.Add(-s.Config.ReminderLead)
	if s.now().Before(runAt) {
		s.scheduleAt(runAt, func() { s.fire(actionReminder, raidID) })
		return
	}

	claimed, err := s.Redis.SetNX(ctx, reminderClaimKey(raidID), "1", s.Config.ReminderClaimTTL).Result()
	if err != nil {
		log.Printf("scheduler: reminder claim %s: %v", raidID, err)
		return
	}
	if !claimed {
		return
	}

	parts, err := s.store.ListParticipants(ctx, raidID)
	if err != nil {
		log.Printf("scheduler: reminder %s: %v", raidID, err)
		return
	}

	when := raid.ScheduledFor.Format("2006-01-02 15:04 MST")
	notified := make(map[string]bool)
	for _, p := range parts {
		if notified[p.UserID] {
			continue
		}
		notified[p.UserID] = true

		seat := "RESERVE"
		if p.IsMain {
			seat = "MAIN"
		}
		text := fmt.Sprintf("Reminder: %s starts at %s. Your status: %s", raid.Name, when, seat)
		if err := s.notifier.SendDirectMessage(ctx, p.UserID, text); err != nil {
			log.Printf("scheduler: dm %s: %v", p.UserID, err)
		}
	}
	s.monitor.TrackReminderSent()
	log.Printf("raid %s: reminder sent to %d participant(s)", raidID, len(notified))
}

// fireCleanup removes the raid's chat artifacts after it ends and marks
// it inactive so future recovery scans skip it. Deactivation only
// happens after a successful cleanup; a failure leaves the raid for the
// next restart to catch up on.
func (s *SchedulerService) fireCleanup(ctx context.Context, raidID string) {
	raid, err := s.store.GetRaid(ctx, raidID)
	if err != nil {
		log.Printf("scheduler: cleanup %s: %v", raidID, err)
		return
	}
	if !raid.IsActive {
		return
	}

	due := raid.ScheduledFor.
		Add(time.Duration(raid.DurationHours) * time.Hour).
		Add(s.Config.CleanupGrace)
	if s.now().Before(due) {
		s.scheduleAt(due, func() { s.fire(actionCleanup, raidID) })
		return
	}

	if err := s.cleaner.CleanupArtifacts(ctx, raid); err != nil {
		log.Printf("scheduler: cleanup %s: %v", raidID, err)
		return
	}
	if err := s.store.SetRaidInactive(ctx, raidID); err != nil {
		log.Printf("scheduler: deactivate %s: %v", raidID, err)
		return
	}
	log.Printf("raid %s: cleaned up and deactivated", raidID)
}

func reminderClaimKey(raidID string) string {
	return "raid_reminder:" + raidID
}
