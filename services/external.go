package services

import (
	"context"
	"time"

	"raid-system/models"
)

// RaidStore is the slice of the relational store the queue consumer,
// scheduler and gateway need. store.Store implements it; tests substitute
// an in-memory fake.
type RaidStore interface {
	CreateRaid(ctx context.Context, raid *models.Raid) error
	GetRaid(ctx context.Context, raidID string) (*models.Raid, error)
	ListActiveRaids(ctx context.Context) ([]models.Raid, error)
	ListUpcomingRaids(ctx context.Context, guildID string, now time.Time) ([]models.Raid, error)
	SetRaidInactive(ctx context.Context, raidID string) error
	DeactivateRaidByChannel(ctx context.Context, channelID string) error
	TransferOwner(ctx context.Context, raidID, newOwnerID string) error
	UpdateSchedule(ctx context.Context, raidID string, scheduledFor time.Time, priorityUntil *time.Time) error

	ListParticipants(ctx context.Context, raidID string) ([]models.Participant, error)
	GetMainRow(ctx context.Context, raidID, userID string) (*models.Participant, error)
	UpsertMain(ctx context.Context, raidID, userID, joinedAs string, isMain bool, tag string) error
	InsertAlt(ctx context.Context, raidID, userID, joinedAs string, isMain bool, tag string, maxAlts int) error
	CountAltsForUser(ctx context.Context, raidID, userID string) (int, error)
	RemoveParticipant(ctx context.Context, raidID, userID string) (int, error)
	RemoveUserAlts(ctx context.Context, raidID, userID string) (int, error)
	RemoveAllForRaid(ctx context.Context, raidID string) (int, error)
	PromoteParticipant(ctx context.Context, participantID string) (bool, error)
	AppendSpec(ctx context.Context, raidID, userID, spec string) error
	SetActiveSpec(ctx context.Context, raidID, userID, classPart, spec string) error
}

// RoleDirectory answers chat-platform role membership questions. The
// promotion run asks it twice per user: which configured priority roles
// they hold, and whether they carry the permanent-reserve role.
type RoleDirectory interface {
	RoleIDsForUser(ctx context.Context, guildID, userID string) ([]string, error)
	HasRoleNamed(ctx context.Context, guildID, userID, roleName string) (bool, error)
}

// Notifier delivers one-shot direct messages (reminders).
type Notifier interface {
	SendDirectMessage(ctx context.Context, userID, text string) error
}

// SummaryRefresher redraws the per-guild raid summary. Implementations
// must tolerate redundant calls; the consumer triggers one after every
// applied event.
type SummaryRefresher interface {
	RedrawSummary(ctx context.Context, guildID string) error
}

// ArtifactCleaner removes a finished raid's chat artifacts (channel,
// pinned message) once its cleanup timer fires.
type ArtifactCleaner interface {
	CleanupArtifacts(ctx context.Context, raid *models.Raid) error
}

// EventQueue is the producer side of the raid event stream as the
// gateway sees it. QueueService implements it.
type EventQueue interface {
	Submit(ctx context.Context, ev models.QueueEvent) (string, error)
	AwaitAck(ctx context.Context, correlationID string, timeout time.Duration) (*models.AckResult, error)
}

// Promoter is the maintenance-path entry into the promotion engine,
// outside the event queue. ConsumerService implements it.
type Promoter interface {
	RecomputePromotions(ctx context.Context, raidID string) error
}

// TimerArmer arms a raid's derived timers after create or reschedule.
// SchedulerService implements it.
type TimerArmer interface {
	ScheduleRaid(raid *models.Raid) int
}

// Clock indirection for the scheduler; tests pin it.
type Clock func() time.Time
