package handlers

import (
	"context"
	"log"
	"time"

	"raid-system/config"
	"raid-system/models"
	"raid-system/services"
	"raid-system/status"
)

// Gateway is the surface the chat front end calls. It decides
// admissibility before anything reaches the queue (inactive raid, alts
// disabled, alt before main), submits the event, waits briefly for the
// consumer's ack and falls back to re-reading authoritative state when
// the wait times out. It never writes seat state itself. Owner actions
// are the exception and run through the same maintenance path as admin
// tooling.
type Gateway struct {
	queue    services.EventQueue
	store    services.RaidStore
	promoter services.Promoter
	armer    services.TimerArmer
	sessions *SessionMap
	cfg      *config.Config
}

func NewGateway(queue services.EventQueue, store services.RaidStore, promoter services.Promoter, armer services.TimerArmer, cfg *config.Config) *Gateway {
	return &Gateway{
		queue:    queue,
		store:    store,
		promoter: promoter,
		armer:    armer,
		sessions: NewSessionMap(cfg.SessionTTL),
		cfg:      cfg,
	}
}

// RunSessionSweeper evicts abandoned debounce entries until ctx ends.
func (g *Gateway) RunSessionSweeper(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.SessionTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.sessions.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// CreateRaid persists a new raid and arms its timers. The creator
// becomes the owner unless one is set explicitly.
func (g *Gateway) CreateRaid(ctx context.Context, raid *models.Raid) error {
	if raid.OwnerID == "" {
		raid.OwnerID = raid.CreatedBy
	}
	if err := g.store.CreateRaid(ctx, raid); err != nil {
		return err
	}
	g.armer.ScheduleRaid(raid)
	return nil
}

// ListUpcomingRaids lists a guild's active raids that have not started.
func (g *Gateway) ListUpcomingRaids(ctx context.Context, guildID string) ([]models.Raid, error) {
	return g.store.ListUpcomingRaids(ctx, guildID, time.Now().UTC())
}

// RescheduleRaid moves a raid's start (and priority window) and re-arms
// its timers. Timers armed for the old schedule re-derive from the row
// at fire time, so they re-arm themselves instead of firing early.
func (g *Gateway) RescheduleRaid(ctx context.Context, raidID, actorID string, scheduledFor time.Time, priorityUntil *time.Time) error {
	raid, err := g.store.GetRaid(ctx, raidID)
	if err != nil {
		return err
	}
	if raid.OwnerID != actorID {
		return status.ErrNotOwner
	}

	if err := g.store.UpdateSchedule(ctx, raidID, scheduledFor, priorityUntil); err != nil {
		return err
	}
	raid.ScheduledFor = scheduledFor
	raid.PriorityUntil = priorityUntil
	g.armer.ScheduleRaid(raid)
	return nil
}

// HandleChannelDeleted deactivates whatever raid lived in a channel the
// chat platform removed out from under us.
func (g *Gateway) HandleChannelDeleted(ctx context.Context, channelID string) error {
	return g.store.DeactivateRaidByChannel(ctx, channelID)
}

type JoinRequest struct {
	RaidID   string
	GuildID  string
	UserID   string
	JoinedAs string
	Tag      string
	IsAlt    bool
}

// JoinRaid validates and submits a join. The event always enters as a
// reserve; the serialized consumer promotes it in the same handling pass
// if a seat is free, so seat counts can never be over-claimed by racing
// producers.
func (g *Gateway) JoinRaid(ctx context.Context, req JoinRequest) (*models.AckResult, error) {
	release, err := g.acquire(req.RaidID, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	raid, err := g.store.GetRaid(ctx, req.RaidID)
	if err != nil {
		return nil, err
	}
	if !raid.IsActive {
		return nil, status.ErrRaidInactive
	}

	if req.IsAlt {
		if !raid.AllowAlts {
			return nil, status.ErrAltsDisabled
		}
		main, err := g.store.GetMainRow(ctx, req.RaidID, req.UserID)
		if err != nil {
			return nil, err
		}
		if main == nil {
			return nil, status.ErrMainRequired
		}
		alts, err := g.store.CountAltsForUser(ctx, req.RaidID, req.UserID)
		if err != nil {
			return nil, err
		}
		if alts >= g.cfg.MaxAlts {
			return nil, status.ErrAltCapReached
		}
	}

	return g.submitAndWait(ctx, &models.JoinEvent{
		RaidID:   req.RaidID,
		GuildID:  req.GuildID,
		UserID:   req.UserID,
		JoinedAs: req.JoinedAs,
		MainNow:  false,
		Tag:      req.Tag,
		IsAlt:    req.IsAlt,
	}, req.RaidID, req.UserID)
}

// LeaveRaid removes the user's registration and all their alts.
func (g *Gateway) LeaveRaid(ctx context.Context, raidID, guildID, userID string) (*models.AckResult, error) {
	release, err := g.acquire(raidID, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.submitAndWait(ctx, &models.LeaveAllEvent{
		RaidID: raidID, GuildID: guildID, UserID: userID,
	}, raidID, userID)
}

func (g *Gateway) LeaveAlts(ctx context.Context, raidID, guildID, userID string) (*models.AckResult, error) {
	release, err := g.acquire(raidID, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.submitAndWait(ctx, &models.LeaveAltsEvent{
		RaidID: raidID, GuildID: guildID, UserID: userID,
	}, raidID, userID)
}

func (g *Gateway) AddSpec(ctx context.Context, raidID, guildID, userID, spec string) (*models.AckResult, error) {
	release, err := g.acquire(raidID, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.submitAndWait(ctx, &models.AddSpecEvent{
		RaidID: raidID, GuildID: guildID, UserID: userID, Spec: spec,
	}, raidID, userID)
}

func (g *Gateway) ChangeSpec(ctx context.Context, raidID, guildID, userID, spec string) (*models.AckResult, error) {
	release, err := g.acquire(raidID, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	return g.submitAndWait(ctx, &models.ChangeSpecEvent{
		RaidID: raidID, GuildID: guildID, UserID: userID, Spec: spec,
	}, raidID, userID)
}

// KickParticipant is an owner action; it bypasses the queue and runs the
// same promotion engine through the maintenance path afterwards.
func (g *Gateway) KickParticipant(ctx context.Context, raidID, actorID, userID string) error {
	raid, err := g.store.GetRaid(ctx, raidID)
	if err != nil {
		return err
	}
	if raid.OwnerID != actorID {
		return status.ErrNotOwner
	}

	if _, err := g.store.RemoveParticipant(ctx, raidID, userID); err != nil {
		return err
	}
	if _, err := g.store.RemoveUserAlts(ctx, raidID, userID); err != nil {
		return err
	}
	return g.promoter.RecomputePromotions(ctx, raidID)
}

func (g *Gateway) TransferOwnership(ctx context.Context, raidID, actorID, newOwnerID string) error {
	raid, err := g.store.GetRaid(ctx, raidID)
	if err != nil {
		return err
	}
	if raid.OwnerID != actorID {
		return status.ErrNotOwner
	}
	return g.store.TransferOwner(ctx, raidID, newOwnerID)
}

// CancelRaid deactivates the raid and clears its roster. In-flight
// timers notice the inactive flag at fire time; artifacts are removed by
// the external collaborator after its grace period.
func (g *Gateway) CancelRaid(ctx context.Context, raidID, actorID string) error {
	raid, err := g.store.GetRaid(ctx, raidID)
	if err != nil {
		return err
	}
	if raid.OwnerID != actorID {
		return status.ErrNotOwner
	}

	if err := g.store.SetRaidInactive(ctx, raidID); err != nil {
		return err
	}
	if _, err := g.store.RemoveAllForRaid(ctx, raidID); err != nil {
		return err
	}
	return nil
}

func (g *Gateway) acquire(raidID, userID string) (func(), error) {
	key := userID + ":" + raidID
	if !g.sessions.TryAcquire(key) {
		return nil, status.ErrBusy
	}
	return func() { g.sessions.Release(key) }, nil
}

// submitAndWait produces the event and polls for its ack. An ack timeout
// is not a failure: the consumer may still apply the event after we stop
// waiting, so the fallback answer comes from re-reading the store.
func (g *Gateway) submitAndWait(ctx context.Context, ev models.QueueEvent, raidID, userID string) (*models.AckResult, error) {
	cid, err := g.queue.Submit(ctx, ev)
	if err != nil {
		return nil, err
	}

	ack, err := g.queue.AwaitAck(ctx, cid, g.cfg.AckWaitTimeout)
	if err != nil {
		return nil, err
	}
	if ack != nil {
		return ack, nil
	}

	log.Printf("gateway: no ack for %s in time, re-reading state", cid)
	row, err := g.store.GetMainRow(ctx, raidID, userID)
	if err != nil {
		return nil, err
	}
	switch ev.(type) {
	case *models.JoinEvent, *models.AddSpecEvent, *models.ChangeSpecEvent:
		return &models.AckResult{OK: row != nil}, nil
	case *models.LeaveAllEvent:
		return &models.AckResult{OK: row == nil}, nil
	default:
		return &models.AckResult{OK: true}, nil
	}
}
