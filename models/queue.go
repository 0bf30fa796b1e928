package models

import (
	"encoding/json"
	"fmt"
)

type EventKind string

const (
	KindJoin       EventKind = "join"
	KindLeaveAll   EventKind = "leave_all"
	KindLeaveAlts  EventKind = "leave_alts"
	KindAddSpec    EventKind = "add_spec"
	KindChangeSpec EventKind = "change_spec"
)

// QueueEvent is the closed set of seat-mutating requests carried on the
// raid event stream. Exactly one struct implements it per kind; the
// consumer dispatches with an exhaustive type switch.
type QueueEvent interface {
	Kind() EventKind
}

type JoinEvent struct {
	RaidID   string `json:"raid_id"`
	GuildID  string `json:"guild_id"`
	UserID   string `json:"user_id"`
	JoinedAs string `json:"joined_as"`
	MainNow  bool   `json:"main_now"`
	Tag      string `json:"tag,omitempty"`
	IsAlt    bool   `json:"is_alt"`
}

type LeaveAllEvent struct {
	RaidID  string `json:"raid_id"`
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
}

type LeaveAltsEvent struct {
	RaidID  string `json:"raid_id"`
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
}

type AddSpecEvent struct {
	RaidID  string `json:"raid_id"`
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Spec    string `json:"spec"`
}

type ChangeSpecEvent struct {
	RaidID  string `json:"raid_id"`
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	Spec    string `json:"spec"`
}

func (JoinEvent) Kind() EventKind       { return KindJoin }
func (LeaveAllEvent) Kind() EventKind   { return KindLeaveAll }
func (LeaveAltsEvent) Kind() EventKind  { return KindLeaveAlts }
func (AddSpecEvent) Kind() EventKind    { return KindAddSpec }
func (ChangeSpecEvent) Kind() EventKind { return KindChangeSpec }

type eventEnvelope struct {
	Kind EventKind       `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func EncodeQueueEvent(ev QueueEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{Kind: ev.Kind(), Data: data})
}

func DecodeQueueEvent(payload []byte) (QueueEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}

	var ev QueueEvent
	switch env.Kind {
	case KindJoin:
		ev = &JoinEvent{}
	case KindLeaveAll:
		ev = &LeaveAllEvent{}
	case KindLeaveAlts:
		ev = &LeaveAltsEvent{}
	case KindAddSpec:
		ev = &AddSpecEvent{}
	case KindChangeSpec:
		ev = &ChangeSpecEvent{}
	default:
		return nil, fmt.Errorf("decode event: unknown kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Kind, err)
	}
	return ev, nil
}

// AckResult is the consumer's outcome for one queue event, published on
// the correlation channel with a short TTL.
type AckResult struct {
	OK          bool `json:"ok"`
	RemovedMain int  `json:"removed_main"`
	RemovedAlts int  `json:"removed_alts"`
}
