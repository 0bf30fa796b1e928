package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"raid-system/config"
	"raid-system/models"
	"raid-system/monitoring"
	"raid-system/status"
)

// ConsumerService is the single logical writer of seat state. It reads
// batches from the raid event stream under a consumer group, applies each
// event to the store, runs the promotion engine and acknowledges the
// entry. Multiple processes may run the same group for failover; group
// delivery still hands each entry to exactly one of them.
type ConsumerService struct {
	Redis     *redis.Client
	Config    *config.Config
	store     RaidStore
	roles     RoleDirectory
	refresher SummaryRefresher
	queue     *QueueService
	monitor   *monitoring.Monitor

	consumerName string
	now          Clock
}

func NewConsumerService(
	redisClient *redis.Client,
	cfg *config.Config,
	st RaidStore,
	roles RoleDirectory,
	refresher SummaryRefresher,
	queue *QueueService,
	monitor *monitoring.Monitor,
) *ConsumerService {
	name := cfg.ConsumerName
	if name == "" {
		name = fmt.Sprintf("bot-%d", os.Getpid())
	}
	return &ConsumerService{
		Redis:        redisClient,
		Config:       cfg,
		store:        st,
		roles:        roles,
		refresher:    refresher,
		queue:        queue,
		monitor:      monitor,
		consumerName: name,
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled, consuming the stream. One bad event
// never stops consumption: every entry is acknowledged, success or not.
func (s *ConsumerService) Run(ctx context.Context) {
	if err := s.queue.EnsureGroup(ctx); err != nil {
		log.Printf("consumer: ensure group: %v", err)
	}
	log.Printf("consumer %s started on stream %s", s.consumerName, s.Config.StreamKey)

	for {
		if ctx.Err() != nil {
			log.Println("consumer stopping")
			return
		}

		streams, err := s.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.Config.GroupName,
			Consumer: s.consumerName,
			Streams:  []string{s.Config.StreamKey, ">"},
			Count:    int64(s.Config.ReadBatchSize),
			Block:    s.Config.ReadBlock,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Println("consumer stopping")
				return
			}
			log.Printf("consumer: read group: %v", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				s.handleEntry(ctx, msg)
			}
		}
	}
}

// handleEntry processes one stream entry. Ack publication happens before
// XACK: a crash between the two only causes a redelivery, and every
// handler is safe to apply twice.
func (s *ConsumerService) handleEntry(ctx context.Context, msg redis.XMessage) {
	cid, _ := msg.Values["cid"].(string)
	payload, _ := msg.Values["payload"].(string)

	ack := s.process(ctx, payload)

	if cid != "" {
		if err := s.queue.PublishAck(ctx, cid, ack); err != nil {
			log.Printf("consumer: publish ack %s: %v", cid, err)
		}
	}
	if err := s.Redis.XAck(ctx, s.Config.StreamKey, s.Config.GroupName, msg.ID).Err(); err != nil {
		log.Printf("consumer: xack %s: %v", msg.ID, err)
	}
}

func (s *ConsumerService) process(ctx context.Context, payload string) models.AckResult {
	ev, err := models.DecodeQueueEvent([]byte(payload))
	if err != nil {
		// Poison message: log, ack as failed, drop. Retrying cannot fix a
		// payload that does not decode.
		log.Printf("consumer: %v: %v", status.ErrDecode, err)
		s.monitor.TrackEventProcessed("unknown", "decode_error")
		return models.AckResult{OK: false}
	}

	var ack models.AckResult
	switch ev := ev.(type) {
	case *models.JoinEvent:
		ack = s.handleJoin(ctx, ev)
	case *models.LeaveAllEvent:
		ack = s.handleLeaveAll(ctx, ev)
	case *models.LeaveAltsEvent:
		ack = s.handleLeaveAlts(ctx, ev)
	case *models.AddSpecEvent:
		ack = s.handleAddSpec(ctx, ev)
	case *models.ChangeSpecEvent:
		ack = s.handleChangeSpec(ctx, ev)
	default:
		log.Printf("consumer: no handler for event kind %q", ev.Kind())
		ack = models.AckResult{OK: false}
	}

	outcome := "ok"
	if !ack.OK {
		outcome = "failed"
	}
	s.monitor.TrackEventProcessed(string(ev.Kind()), outcome)
	return ack
}

// handleJoin upserts the registration and promotes. Re-applying the same
// join after a redelivery hits the upsert path for mains and the
// matching alt row for alts, so neither duplicates.
func (s *ConsumerService) handleJoin(ctx context.Context, ev *models.JoinEvent) models.AckResult {
	var err error
	if ev.IsAlt {
		err = s.store.InsertAlt(ctx, ev.RaidID, ev.UserID, ev.JoinedAs, ev.MainNow, ev.Tag, s.Config.MaxAlts)
	} else {
		err = s.store.UpsertMain(ctx, ev.RaidID, ev.UserID, ev.JoinedAs, ev.MainNow, ev.Tag)
	}
	if err != nil {
		log.Printf("consumer: join %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}

	s.promoteAndRefresh(ctx, ev.RaidID, ev.GuildID)
	return models.AckResult{OK: true}
}

func (s *ConsumerService) handleLeaveAll(ctx context.Context, ev *models.LeaveAllEvent) models.AckResult {
	removedMain, err := s.store.RemoveParticipant(ctx, ev.RaidID, ev.UserID)
	if err != nil {
		log.Printf("consumer: leave %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}
	removedAlts, err := s.store.RemoveUserAlts(ctx, ev.RaidID, ev.UserID)
	if err != nil {
		log.Printf("consumer: leave alts %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}

	s.promoteAndRefresh(ctx, ev.RaidID, ev.GuildID)
	return models.AckResult{OK: true, RemovedMain: removedMain, RemovedAlts: removedAlts}
}

func (s *ConsumerService) handleLeaveAlts(ctx context.Context, ev *models.LeaveAltsEvent) models.AckResult {
	removed, err := s.store.RemoveUserAlts(ctx, ev.RaidID, ev.UserID)
	if err != nil {
		log.Printf("consumer: leave alts %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}

	s.promoteAndRefresh(ctx, ev.RaidID, ev.GuildID)
	return models.AckResult{OK: true, RemovedAlts: removed}
}

func (s *ConsumerService) handleAddSpec(ctx context.Context, ev *models.AddSpecEvent) models.AckResult {
	err := s.store.AppendSpec(ctx, ev.RaidID, ev.UserID, ev.Spec)
	if err != nil && err != status.ErrStaleState {
		log.Printf("consumer: add spec %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}

	// A stale row is a no-op success: the user already left.
	s.promoteAndRefresh(ctx, ev.RaidID, ev.GuildID)
	return models.AckResult{OK: true}
}

func (s *ConsumerService) handleChangeSpec(ctx context.Context, ev *models.ChangeSpecEvent) models.AckResult {
	main, err := s.store.GetMainRow(ctx, ev.RaidID, ev.UserID)
	if err != nil {
		log.Printf("consumer: change spec %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}
	if main == nil {
		return models.AckResult{OK: true}
	}

	classPart := strings.TrimSpace(strings.SplitN(main.JoinedAs, "/", 2)[0])
	err = s.store.SetActiveSpec(ctx, ev.RaidID, ev.UserID, classPart, ev.Spec)
	if err != nil && err != status.ErrStaleState {
		log.Printf("consumer: change spec %s/%s: %v", ev.RaidID, ev.UserID, err)
		return models.AckResult{OK: false}
	}

	s.promoteAndRefresh(ctx, ev.RaidID, ev.GuildID)
	return models.AckResult{OK: true}
}

// RecomputePromotions is the maintenance entry point: admin paths call it
// directly, it uses the exact same engine as the queue handlers.
func (s *ConsumerService) RecomputePromotions(ctx context.Context, raidID string) error {
	raid, err := s.store.GetRaid(ctx, raidID)
	if err != nil {
		return err
	}
	s.promoteAndRefresh(ctx, raidID, raid.GuildID)
	return nil
}

// promoteAndRefresh runs one promotion pass against a fresh snapshot and
// asks the chat layer to redraw the summary. It only ever runs inside the
// serialized consumer (or the maintenance path), so the conditional
// per-row updates cannot race another writer.
func (s *ConsumerService) promoteAndRefresh(ctx context.Context, raidID, guildID string) {
	raid, err := s.store.GetRaid(ctx, raidID)
	if err != nil {
		log.Printf("consumer: promote %s: %v", raidID, err)
		return
	}
	if !raid.IsActive {
		return
	}

	parts, err := s.store.ListParticipants(ctx, raidID)
	if err != nil {
		log.Printf("consumer: promote %s: %v", raidID, err)
		return
	}

	exclude, priority := s.memberSets(ctx, raid, parts)
	changes := Promote(parts, raid, exclude, priority, s.now().UTC())

	applied := 0
	for _, change := range changes {
		ok, err := s.store.PromoteParticipant(ctx, change.ParticipantID)
		if err != nil {
			log.Printf("consumer: apply promotion %s: %v", change.ParticipantID, err)
			continue
		}
		if ok {
			applied++
		}
	}
	if applied > 0 {
		log.Printf("raid %s: promoted %d reserve(s)", raidID, applied)
		s.monitor.TrackPromotions(applied)
	}

	if err := s.refresher.RedrawSummary(ctx, guildID); err != nil {
		log.Printf("consumer: redraw summary %s: %v", guildID, err)
	}
}

// memberSets computes the exclusion and priority sets for one promotion
// run from current role membership. Role lookup failures leave the user
// out of both sets rather than failing the whole run.
func (s *ConsumerService) memberSets(ctx context.Context, raid *models.Raid, parts []models.Participant) (exclude, priority map[string]bool) {
	exclude = make(map[string]bool)
	priority = make(map[string]bool)

	priorityRoles := make(map[string]bool)
	for _, id := range raid.PriorityRoleIDs() {
		priorityRoles[id] = true
	}

	seen := make(map[string]bool)
	for _, p := range parts {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true

		excluded, err := s.roles.HasRoleNamed(ctx, raid.GuildID, p.UserID, s.Config.ReserveRoleName)
		if err != nil {
			log.Printf("consumer: role lookup %s: %v", p.UserID, err)
			continue
		}
		if excluded {
			exclude[p.UserID] = true
		}

		if len(priorityRoles) == 0 {
			continue
		}
		roleIDs, err := s.roles.RoleIDsForUser(ctx, raid.GuildID, p.UserID)
		if err != nil {
			log.Printf("consumer: role lookup %s: %v", p.UserID, err)
			continue
		}
		for _, id := range roleIDs {
			if priorityRoles[id] {
				priority[p.UserID] = true
				break
			}
		}
	}
	return exclude, priority
}
