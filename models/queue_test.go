package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEvent_RoundTripPreservesKindAndFields(t *testing.T) {
	original := &JoinEvent{
		RaidID:   "raid-1",
		GuildID:  "guild-1",
		UserID:   "u1",
		JoinedAs: "MSW / Frost",
		Tag:      "#main",
		IsAlt:    true,
	}

	payload, err := EncodeQueueEvent(original)
	require.NoError(t, err)

	decoded, err := DecodeQueueEvent(payload)
	require.NoError(t, err)

	join, ok := decoded.(*JoinEvent)
	require.True(t, ok)
	assert.Equal(t, original, join)
}

func TestQueueEvent_EachKindDecodesToItsOwnType(t *testing.T) {
	events := []QueueEvent{
		&JoinEvent{RaidID: "r", UserID: "u"},
		&LeaveAllEvent{RaidID: "r", UserID: "u"},
		&LeaveAltsEvent{RaidID: "r", UserID: "u"},
		&AddSpecEvent{RaidID: "r", UserID: "u", Spec: "Frost"},
		&ChangeSpecEvent{RaidID: "r", UserID: "u", Spec: "Inferno"},
	}

	for _, original := range events {
		payload, err := EncodeQueueEvent(original)
		require.NoError(t, err)

		decoded, err := DecodeQueueEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, original.Kind(), decoded.Kind())
		assert.Equal(t, original, decoded)
	}
}

func TestDecodeQueueEvent_UnknownKind(t *testing.T) {
	_, err := DecodeQueueEvent([]byte(`{"kind":"promote_me","data":{}}`))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestDecodeQueueEvent_MalformedPayload(t *testing.T) {
	_, err := DecodeQueueEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestDecodeQueueEvent_MalformedData(t *testing.T) {
	_, err := DecodeQueueEvent([]byte(`{"kind":"join","data":[1,2,3]}`))
	assert.Error(t, err)
}
