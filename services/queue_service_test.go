package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raid-system/config"
	"raid-system/models"
	"raid-system/status"
)

func testConfig() *config.Config {
	return &config.Config{
		StreamKey:      "raid_events",
		GroupName:      "raid_bot",
		ConsumerName:   "bot-test",
		ReadBatchSize:  20,
		ReadBlock:      2 * time.Second,
		AckTTL:         5 * time.Second,
		AckPollStep:    5 * time.Millisecond,
		AckWaitTimeout: 100 * time.Millisecond,

		ReserveRoleName:  "reserve",
		ReminderLead:     15 * time.Minute,
		ReminderClaimTTL: 48 * time.Hour,
		CleanupGrace:     20 * time.Minute,
		SessionTTL:       90 * time.Second,
		MaxAlts:          3,
	}
}

func setupTestQueueService() (*QueueService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	service := NewQueueService(db, testConfig(), nil)
	service.newID = func() string { return "cid-fixed" }
	return service, mock
}

func TestQueueService_Submit_Success(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ev := &models.JoinEvent{
		RaidID:   "raid-1",
		GuildID:  "guild-1",
		UserID:   "user-1",
		JoinedAs: "MSW / Inferno",
		IsAlt:    false,
	}
	payload, err := models.EncodeQueueEvent(ev)
	require.NoError(t, err)

	mock.ExpectXGroupCreateMkStream("raid_events", "raid_bot", "$").SetVal("OK")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "raid_events",
		Values: []any{"cid", "cid-fixed", "payload", string(payload)},
	}).SetVal("1-0")

	cid, err := service.Submit(context.Background(), ev)

	require.NoError(t, err)
	assert.Equal(t, "cid-fixed", cid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_Submit_EnsuresGroupOnceBeforeFirstAppend(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ev := &models.LeaveAllEvent{RaidID: "raid-1", GuildID: "guild-1", UserID: "user-1"}
	payload, err := models.EncodeQueueEvent(ev)
	require.NoError(t, err)

	// The group must exist before anything is appended: it reads from
	// "$", so an earlier entry would never be delivered. A second submit
	// must not issue the group create again.
	mock.ExpectXGroupCreateMkStream("raid_events", "raid_bot", "$").SetVal("OK")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "raid_events",
		Values: []any{"cid", "cid-fixed", "payload", string(payload)},
	}).SetVal("1-0")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "raid_events",
		Values: []any{"cid", "cid-fixed", "payload", string(payload)},
	}).SetVal("1-1")

	_, err = service.Submit(context.Background(), ev)
	require.NoError(t, err)
	_, err = service.Submit(context.Background(), ev)
	require.NoError(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_Submit_RetriesGroupCreateAfterFailure(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ev := &models.LeaveAllEvent{RaidID: "raid-1", GuildID: "guild-1", UserID: "user-1"}
	payload, err := models.EncodeQueueEvent(ev)
	require.NoError(t, err)

	mock.ExpectXGroupCreateMkStream("raid_events", "raid_bot", "$").SetErr(assert.AnError)

	_, err = service.Submit(context.Background(), ev)
	require.ErrorIs(t, err, status.ErrTransport)

	mock.ExpectXGroupCreateMkStream("raid_events", "raid_bot", "$").SetVal("OK")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "raid_events",
		Values: []any{"cid", "cid-fixed", "payload", string(payload)},
	}).SetVal("1-0")

	_, err = service.Submit(context.Background(), ev)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_Submit_TransportError(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ev := &models.LeaveAllEvent{RaidID: "raid-1", GuildID: "guild-1", UserID: "user-1"}
	payload, err := models.EncodeQueueEvent(ev)
	require.NoError(t, err)

	mock.ExpectXGroupCreateMkStream("raid_events", "raid_bot", "$").SetVal("OK")
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: "raid_events",
		Values: []any{"cid", "cid-fixed", "payload", string(payload)},
	}).SetErr(assert.AnError)

	_, err = service.Submit(context.Background(), ev)

	require.Error(t, err)
	assert.ErrorIs(t, err, status.ErrTransport)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_EnsureGroup_ToleratesBusyGroup(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectXGroupCreateMkStream("raid_events", "raid_bot", "$").
		SetErr(busyGroupErr{})

	err := service.EnsureGroup(context.Background())

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type busyGroupErr struct{}

func (busyGroupErr) Error() string {
	return "BUSYGROUP Consumer Group name already exists"
}

func TestQueueService_AwaitAck_ReturnsPublishedResult(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ack := models.AckResult{OK: true, RemovedMain: 1, RemovedAlts: 2}
	data, err := json.Marshal(ack)
	require.NoError(t, err)

	mock.ExpectGet("raid_ack:cid-fixed").SetVal(string(data))

	got, err := service.AwaitAck(context.Background(), "cid-fixed", 100*time.Millisecond)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.OK)
	assert.Equal(t, 1, got.RemovedMain)
	assert.Equal(t, 2, got.RemovedAlts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_AwaitAck_TimeoutIsNotAnError(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	// Ack never arrives: every poll misses.
	for i := 0; i < 50; i++ {
		mock.ExpectGet("raid_ack:cid-fixed").RedisNil()
	}

	got, err := service.AwaitAck(context.Background(), "cid-fixed", 20*time.Millisecond)

	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueueService_AwaitAck_ArrivesAfterPolling(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ack := models.AckResult{OK: true}
	data, err := json.Marshal(ack)
	require.NoError(t, err)

	mock.ExpectGet("raid_ack:cid-fixed").RedisNil()
	mock.ExpectGet("raid_ack:cid-fixed").RedisNil()
	mock.ExpectGet("raid_ack:cid-fixed").SetVal(string(data))

	got, err := service.AwaitAck(context.Background(), "cid-fixed", time.Second)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.OK)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_PublishAck(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	ack := models.AckResult{OK: true}
	data, err := json.Marshal(ack)
	require.NoError(t, err)

	mock.ExpectSet("raid_ack:cid-fixed", data, 5*time.Second).SetVal("OK")

	err = service.PublishAck(context.Background(), "cid-fixed", ack)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
