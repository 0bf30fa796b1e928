package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raid-system/config"
	"raid-system/models"
	"raid-system/status"
)

// gwStore is a canned services.RaidStore: only the methods the gateway
// touches do anything interesting.
type gwStore struct {
	raid     *models.Raid
	mainRow  *models.Participant
	altCount int

	removedParts int
	removedAlts  int
	removedAll   int
	deactivated  bool
	newOwner     string
}

func (s *gwStore) CreateRaid(_ context.Context, raid *models.Raid) error {
	if raid.ID == "" {
		raid.ID = "raid-new"
	}
	raid.IsActive = true
	s.raid = raid
	return nil
}

func (s *gwStore) GetRaid(_ context.Context, raidID string) (*models.Raid, error) {
	if s.raid == nil || s.raid.ID != raidID {
		return nil, status.ErrRaidNotFound
	}
	copied := *s.raid
	return &copied, nil
}

func (s *gwStore) ListActiveRaids(context.Context) ([]models.Raid, error) { return nil, nil }

func (s *gwStore) ListUpcomingRaids(_ context.Context, guildID string, now time.Time) ([]models.Raid, error) {
	if s.raid != nil && s.raid.GuildID == guildID && s.raid.IsActive && s.raid.ScheduledFor.After(now) {
		return []models.Raid{*s.raid}, nil
	}
	return nil, nil
}

func (s *gwStore) SetRaidInactive(_ context.Context, _ string) error {
	s.deactivated = true
	return nil
}

func (s *gwStore) DeactivateRaidByChannel(_ context.Context, channelID string) error {
	if s.raid != nil && s.raid.ChannelID == channelID {
		s.raid.IsActive = false
	}
	return nil
}

func (s *gwStore) UpdateSchedule(_ context.Context, _ string, scheduledFor time.Time, priorityUntil *time.Time) error {
	s.raid.ScheduledFor = scheduledFor
	s.raid.PriorityUntil = priorityUntil
	return nil
}

func (s *gwStore) TransferOwner(_ context.Context, _, newOwnerID string) error {
	s.newOwner = newOwnerID
	return nil
}

func (s *gwStore) ListParticipants(context.Context, string) ([]models.Participant, error) {
	return nil, nil
}

func (s *gwStore) GetMainRow(context.Context, string, string) (*models.Participant, error) {
	return s.mainRow, nil
}

func (s *gwStore) UpsertMain(context.Context, string, string, string, bool, string) error {
	return nil
}

func (s *gwStore) InsertAlt(context.Context, string, string, string, bool, string, int) error {
	return nil
}

func (s *gwStore) CountAltsForUser(context.Context, string, string) (int, error) {
	return s.altCount, nil
}

func (s *gwStore) RemoveParticipant(context.Context, string, string) (int, error) {
	s.removedParts++
	return 1, nil
}

func (s *gwStore) RemoveUserAlts(context.Context, string, string) (int, error) {
	s.removedAlts++
	return 0, nil
}

func (s *gwStore) RemoveAllForRaid(context.Context, string) (int, error) {
	s.removedAll++
	return 3, nil
}

func (s *gwStore) PromoteParticipant(context.Context, string) (bool, error) { return false, nil }

func (s *gwStore) AppendSpec(context.Context, string, string, string) error { return nil }

func (s *gwStore) SetActiveSpec(context.Context, string, string, string, string) error {
	return nil
}

// gwQueue records submitted events and replies with a canned ack. A nil
// ack simulates the consumer not answering within the wait window.
type gwQueue struct {
	submitted []models.QueueEvent
	ack       *models.AckResult
	submitErr error
}

func (q *gwQueue) Submit(_ context.Context, ev models.QueueEvent) (string, error) {
	if q.submitErr != nil {
		return "", q.submitErr
	}
	q.submitted = append(q.submitted, ev)
	return "cid-1", nil
}

func (q *gwQueue) AwaitAck(context.Context, string, time.Duration) (*models.AckResult, error) {
	return q.ack, nil
}

type gwPromoter struct {
	raidIDs []string
}

func (p *gwPromoter) RecomputePromotions(_ context.Context, raidID string) error {
	p.raidIDs = append(p.raidIDs, raidID)
	return nil
}

type gwArmer struct {
	armed []string
}

func (a *gwArmer) ScheduleRaid(raid *models.Raid) int {
	a.armed = append(a.armed, raid.ID)
	return 2
}

func gatewayConfig() *config.Config {
	return &config.Config{
		AckWaitTimeout: 100 * time.Millisecond,
		SessionTTL:     90 * time.Second,
		MaxAlts:        3,
	}
}

func setupGateway(t *testing.T) (*Gateway, *gwStore, *gwQueue, *gwPromoter) {
	t.Helper()
	st := &gwStore{
		raid: &models.Raid{
			ID:        "raid-1",
			GuildID:   "guild-1",
			Name:      "Weekly Clear",
			OwnerID:   "owner-1",
			IsActive:  true,
			MaxMains:  10,
			AllowAlts: true,
		},
	}
	queue := &gwQueue{ack: &models.AckResult{OK: true}}
	promoter := &gwPromoter{}
	return NewGateway(queue, st, promoter, &gwArmer{}, gatewayConfig()), st, queue, promoter
}

func TestGateway_JoinSubmitsReserveEntry(t *testing.T) {
	gw, _, queue, _ := setupGateway(t)

	ack, err := gw.JoinRaid(context.Background(), JoinRequest{
		RaidID: "raid-1", GuildID: "guild-1", UserID: "u1", JoinedAs: "MSW",
	})

	require.NoError(t, err)
	assert.True(t, ack.OK)

	require.Len(t, queue.submitted, 1)
	join := queue.submitted[0].(*models.JoinEvent)
	assert.False(t, join.MainNow, "seat claims happen in the consumer, never at submit time")
	assert.False(t, join.IsAlt)
}

func TestGateway_JoinInactiveRaid(t *testing.T) {
	gw, st, queue, _ := setupGateway(t)
	st.raid.IsActive = false

	_, err := gw.JoinRaid(context.Background(), JoinRequest{RaidID: "raid-1", UserID: "u1"})

	assert.ErrorIs(t, err, status.ErrRaidInactive)
	assert.Empty(t, queue.submitted)
}

func TestGateway_JoinUnknownRaid(t *testing.T) {
	gw, _, _, _ := setupGateway(t)

	_, err := gw.JoinRaid(context.Background(), JoinRequest{RaidID: "missing", UserID: "u1"})

	assert.ErrorIs(t, err, status.ErrRaidNotFound)
}

func TestGateway_AltJoinRequiresAltsEnabled(t *testing.T) {
	gw, st, _, _ := setupGateway(t)
	st.raid.AllowAlts = false

	_, err := gw.JoinRaid(context.Background(), JoinRequest{
		RaidID: "raid-1", UserID: "u1", IsAlt: true,
	})

	assert.ErrorIs(t, err, status.ErrAltsDisabled)
}

func TestGateway_AltJoinRequiresMainRegistration(t *testing.T) {
	gw, _, _, _ := setupGateway(t)

	_, err := gw.JoinRaid(context.Background(), JoinRequest{
		RaidID: "raid-1", UserID: "u1", IsAlt: true,
	})

	assert.ErrorIs(t, err, status.ErrMainRequired)
}

func TestGateway_AltJoinEnforcesPerUserCap(t *testing.T) {
	gw, st, _, _ := setupGateway(t)
	st.mainRow = &models.Participant{ID: "row-1", RaidID: "raid-1", UserID: "u1"}
	st.altCount = 3

	_, err := gw.JoinRaid(context.Background(), JoinRequest{
		RaidID: "raid-1", UserID: "u1", IsAlt: true,
	})

	assert.ErrorIs(t, err, status.ErrAltCapReached)
}

func TestGateway_AltJoinUnderCapGoesThrough(t *testing.T) {
	gw, st, queue, _ := setupGateway(t)
	st.mainRow = &models.Participant{ID: "row-1", RaidID: "raid-1", UserID: "u1"}
	st.altCount = 2

	ack, err := gw.JoinRaid(context.Background(), JoinRequest{
		RaidID: "raid-1", UserID: "u1", JoinedAs: "FM", IsAlt: true,
	})

	require.NoError(t, err)
	assert.True(t, ack.OK)
	require.Len(t, queue.submitted, 1)
	assert.True(t, queue.submitted[0].(*models.JoinEvent).IsAlt)
}

func TestGateway_InFlightSessionRejectsSecondRequest(t *testing.T) {
	gw, _, _, _ := setupGateway(t)
	gw.sessions.TryAcquire("u1:raid-1")

	_, err := gw.JoinRaid(context.Background(), JoinRequest{RaidID: "raid-1", UserID: "u1"})

	assert.ErrorIs(t, err, status.ErrBusy)
}

func TestGateway_SessionReleasedAfterRequest(t *testing.T) {
	gw, _, _, _ := setupGateway(t)

	_, err := gw.JoinRaid(context.Background(), JoinRequest{RaidID: "raid-1", UserID: "u1"})
	require.NoError(t, err)

	// Same user, same raid, right away: the first request is done.
	_, err = gw.LeaveRaid(context.Background(), "raid-1", "guild-1", "u1")
	assert.NoError(t, err)
}

func TestGateway_AckTimeoutFallsBackToStoreRead(t *testing.T) {
	gw, st, queue, _ := setupGateway(t)
	queue.ack = nil // consumer did not answer in time

	// The row is there, so the join did land.
	st.mainRow = &models.Participant{ID: "row-1", RaidID: "raid-1", UserID: "u1"}

	ack, err := gw.JoinRaid(context.Background(), JoinRequest{RaidID: "raid-1", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, ack.OK)
}

func TestGateway_AckTimeoutLeaveChecksRowGone(t *testing.T) {
	gw, st, queue, _ := setupGateway(t)
	queue.ack = nil
	st.mainRow = nil

	ack, err := gw.LeaveRaid(context.Background(), "raid-1", "guild-1", "u1")
	require.NoError(t, err)
	assert.True(t, ack.OK)
}

func TestGateway_KickRequiresOwner(t *testing.T) {
	gw, st, _, promoter := setupGateway(t)

	err := gw.KickParticipant(context.Background(), "raid-1", "not-owner", "u1")

	assert.ErrorIs(t, err, status.ErrNotOwner)
	assert.Zero(t, st.removedParts)
	assert.Empty(t, promoter.raidIDs)
}

func TestGateway_KickRemovesAndRecomputes(t *testing.T) {
	gw, st, _, promoter := setupGateway(t)

	err := gw.KickParticipant(context.Background(), "raid-1", "owner-1", "u1")

	require.NoError(t, err)
	assert.Equal(t, 1, st.removedParts)
	assert.Equal(t, 1, st.removedAlts)
	assert.Equal(t, []string{"raid-1"}, promoter.raidIDs)
}

func TestGateway_TransferOwnershipRequiresOwner(t *testing.T) {
	gw, st, _, _ := setupGateway(t)

	err := gw.TransferOwnership(context.Background(), "raid-1", "not-owner", "u2")

	assert.ErrorIs(t, err, status.ErrNotOwner)
	assert.Empty(t, st.newOwner)
}

func TestGateway_TransferOwnership(t *testing.T) {
	gw, st, _, _ := setupGateway(t)

	err := gw.TransferOwnership(context.Background(), "raid-1", "owner-1", "u2")

	require.NoError(t, err)
	assert.Equal(t, "u2", st.newOwner)
}

func TestGateway_CancelDeactivatesAndClearsRoster(t *testing.T) {
	gw, st, _, _ := setupGateway(t)

	err := gw.CancelRaid(context.Background(), "raid-1", "owner-1")

	require.NoError(t, err)
	assert.True(t, st.deactivated)
	assert.Equal(t, 1, st.removedAll)
}

func TestGateway_CreateRaidArmsTimersAndDefaultsOwner(t *testing.T) {
	st := &gwStore{}
	armer := &gwArmer{}
	gw := NewGateway(&gwQueue{}, st, &gwPromoter{}, armer, gatewayConfig())

	raid := &models.Raid{
		GuildID:      "guild-1",
		Name:         "Weekly Clear",
		CreatedBy:    "creator-1",
		ScheduledFor: time.Date(2026, 3, 15, 18, 0, 0, 0, time.UTC),
		MaxMains:     10,
	}
	err := gw.CreateRaid(context.Background(), raid)

	require.NoError(t, err)
	assert.Equal(t, "creator-1", raid.OwnerID)
	assert.Equal(t, []string{raid.ID}, armer.armed)
}

func TestGateway_ListUpcomingRaids(t *testing.T) {
	gw, st, _, _ := setupGateway(t)
	st.raid.ScheduledFor = time.Now().UTC().Add(24 * time.Hour)

	raids, err := gw.ListUpcomingRaids(context.Background(), "guild-1")

	require.NoError(t, err)
	require.Len(t, raids, 1)
	assert.Equal(t, "raid-1", raids[0].ID)
}

func TestGateway_RescheduleRequiresOwner(t *testing.T) {
	gw, _, _, _ := setupGateway(t)

	err := gw.RescheduleRaid(context.Background(), "raid-1", "not-owner",
		time.Date(2026, 3, 16, 18, 0, 0, 0, time.UTC), nil)

	assert.ErrorIs(t, err, status.ErrNotOwner)
}

func TestGateway_RescheduleUpdatesRowAndRearms(t *testing.T) {
	st := &gwStore{raid: &models.Raid{ID: "raid-1", GuildID: "guild-1", OwnerID: "owner-1", IsActive: true}}
	armer := &gwArmer{}
	gw := NewGateway(&gwQueue{}, st, &gwPromoter{}, armer, gatewayConfig())

	newStart := time.Date(2026, 3, 16, 18, 0, 0, 0, time.UTC)
	err := gw.RescheduleRaid(context.Background(), "raid-1", "owner-1", newStart, nil)

	require.NoError(t, err)
	assert.Equal(t, newStart, st.raid.ScheduledFor)
	assert.Equal(t, []string{"raid-1"}, armer.armed)
}

func TestGateway_HandleChannelDeleted(t *testing.T) {
	gw, st, _, _ := setupGateway(t)
	st.raid.ChannelID = "chan-1"

	require.NoError(t, gw.HandleChannelDeleted(context.Background(), "chan-1"))
	assert.False(t, st.raid.IsActive)
}

func TestGateway_CancelRequiresOwner(t *testing.T) {
	gw, st, _, _ := setupGateway(t)

	err := gw.CancelRaid(context.Background(), "raid-1", "intruder")

	assert.ErrorIs(t, err, status.ErrNotOwner)
	assert.False(t, st.deactivated)
}
