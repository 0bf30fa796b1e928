package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pocketbase/dbx"
	_ "modernc.org/sqlite"

	"raid-system/models"
	"raid-system/status"
)

// Store wraps the relational store the consumer loop and scheduler read
// and write. All seat-affecting writes go through the single consumer, so
// individual statements only need row-level conditional updates, not
// transactions spanning entities.
type Store struct {
	db *dbx.DB
}

func New(driver, dsn string) (*Store, error) {
	db, err := dbx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tooling.
func (s *Store) DB() *dbx.DB {
	return s.db
}

func (s *Store) CreateRaid(ctx context.Context, raid *models.Raid) error {
	if raid.ID == "" {
		raid.ID = uuid.NewString()
	}
	if raid.MaxAltMains > raid.MaxMains {
		raid.MaxAltMains = raid.MaxMains
	}
	raid.IsActive = true
	return s.db.Model(raid).WithContext(ctx).Insert()
}

func (s *Store) GetRaid(ctx context.Context, raidID string) (*models.Raid, error) {
	var raid models.Raid
	err := s.db.Select().From("raids").
		Where(dbx.HashExp{"id": raidID}).
		WithContext(ctx).
		One(&raid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrRaidNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get raid %s: %w", raidID, err)
	}
	return &raid, nil
}

// ListActiveRaids returns every raid the scheduler must re-derive timers
// for after a restart.
func (s *Store) ListActiveRaids(ctx context.Context) ([]models.Raid, error) {
	var raids []models.Raid
	err := s.db.Select().From("raids").
		Where(dbx.HashExp{"is_active": true}).
		OrderBy("scheduled_for ASC").
		WithContext(ctx).
		All(&raids)
	if err != nil {
		return nil, fmt.Errorf("list active raids: %w", err)
	}
	return raids, nil
}

func (s *Store) ListUpcomingRaids(ctx context.Context, guildID string, now time.Time) ([]models.Raid, error) {
	var raids []models.Raid
	err := s.db.Select().From("raids").
		Where(dbx.NewExp("guild_id={:g} AND is_active={:a} AND scheduled_for>{:n}",
			dbx.Params{"g": guildID, "a": true, "n": now})).
		OrderBy("scheduled_for ASC").
		WithContext(ctx).
		All(&raids)
	if err != nil {
		return nil, fmt.Errorf("list upcoming raids: %w", err)
	}
	return raids, nil
}

func (s *Store) SetRaidInactive(ctx context.Context, raidID string) error {
	_, err := s.db.Update("raids",
		dbx.Params{"is_active": false},
		dbx.HashExp{"id": raidID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("deactivate raid %s: %w", raidID, err)
	}
	return nil
}

// DeactivateRaidByChannel handles the chat platform deleting a raid's
// channel out from under us.
func (s *Store) DeactivateRaidByChannel(ctx context.Context, channelID string) error {
	_, err := s.db.Update("raids",
		dbx.Params{"is_active": false},
		dbx.HashExp{"channel_id": channelID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("deactivate raid by channel %s: %w", channelID, err)
	}
	return nil
}

func (s *Store) TransferOwner(ctx context.Context, raidID, newOwnerID string) error {
	res, err := s.db.Update("raids",
		dbx.Params{"owner_id": newOwnerID},
		dbx.HashExp{"id": raidID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("transfer raid %s: %w", raidID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return status.ErrRaidNotFound
	}
	return nil
}

func (s *Store) UpdateSchedule(ctx context.Context, raidID string, scheduledFor time.Time, priorityUntil *time.Time) error {
	_, err := s.db.Update("raids",
		dbx.Params{"scheduled_for": scheduledFor, "priority_until": priorityUntil},
		dbx.HashExp{"id": raidID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("update raid %s schedule: %w", raidID, err)
	}
	return nil
}

// ListParticipants returns all rows for a raid in promotion order:
// non-alt before alt, then arrival order, then row id so equal timestamps
// stay deterministic.
func (s *Store) ListParticipants(ctx context.Context, raidID string) ([]models.Participant, error) {
	var parts []models.Participant
	err := s.db.Select().From("participants").
		Where(dbx.HashExp{"raid_id": raidID}).
		OrderBy("is_alt ASC", "joined_at ASC", "id ASC").
		WithContext(ctx).
		All(&parts)
	if err != nil {
		return nil, fmt.Errorf("list participants for raid %s: %w", raidID, err)
	}
	return parts, nil
}

// GetMainRow returns the user's primary (non-alt) row, or nil when the
// user has not joined.
func (s *Store) GetMainRow(ctx context.Context, raidID, userID string) (*models.Participant, error) {
	var p models.Participant
	err := s.db.Select().From("participants").
		Where(dbx.HashExp{"raid_id": raidID, "user_id": userID, "is_alt": false}).
		WithContext(ctx).
		One(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get main row: %w", err)
	}
	return &p, nil
}

// UpsertMain records a user's primary registration. Re-applying the same
// join updates the existing row in place and keeps its original arrival
// time, so redelivered events cannot duplicate a registration or let a
// user jump the queue.
func (s *Store) UpsertMain(ctx context.Context, raidID, userID, joinedAs string, isMain bool, tag string) error {
	existing, err := s.GetMainRow(ctx, raidID, userID)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err = s.db.Update("participants",
			dbx.Params{"joined_as": joinedAs, "is_main": isMain, "is_reserve": !isMain, "tag": tag},
			dbx.HashExp{"id": existing.ID}).
			WithContext(ctx).
			Execute()
		if err != nil {
			return fmt.Errorf("update main row: %w", err)
		}
		return nil
	}

	p := &models.Participant{
		ID:        uuid.NewString(),
		RaidID:    raidID,
		UserID:    userID,
		JoinedAs:  joinedAs,
		IsMain:    isMain,
		IsReserve: !isMain,
		IsAlt:     false,
		Tag:       tag,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.db.Model(p).WithContext(ctx).Insert(); err != nil {
		return fmt.Errorf("insert main row: %w", err)
	}
	return nil
}

// InsertAlt registers an alt character. Alts require an existing main
// row and are capped per user. A redelivered alt join matches the
// existing row by label and converges on it instead of duplicating, so
// applying the same event twice leaves exactly one alt row.
func (s *Store) InsertAlt(ctx context.Context, raidID, userID, joinedAs string, isMain bool, tag string, maxAlts int) error {
	main, err := s.GetMainRow(ctx, raidID, userID)
	if err != nil {
		return err
	}
	if main == nil {
		return status.ErrMainRequired
	}

	var existing models.Participant
	err = s.db.Select().From("participants").
		Where(dbx.HashExp{"raid_id": raidID, "user_id": userID, "is_alt": true, "joined_as": joinedAs}).
		WithContext(ctx).
		One(&existing)
	if err == nil {
		_, err = s.db.Update("participants",
			dbx.Params{"tag": tag},
			dbx.HashExp{"id": existing.ID}).
			WithContext(ctx).
			Execute()
		if err != nil {
			return fmt.Errorf("update alt row: %w", err)
		}
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get alt row: %w", err)
	}

	count, err := s.CountAltsForUser(ctx, raidID, userID)
	if err != nil {
		return err
	}
	if count >= maxAlts {
		return status.ErrAltCapReached
	}

	p := &models.Participant{
		ID:        uuid.NewString(),
		RaidID:    raidID,
		UserID:    userID,
		JoinedAs:  joinedAs,
		IsMain:    isMain,
		IsReserve: !isMain,
		IsAlt:     true,
		Tag:       tag,
		JoinedAt:  time.Now().UTC(),
	}
	if err := s.db.Model(p).WithContext(ctx).Insert(); err != nil {
		return fmt.Errorf("insert alt row: %w", err)
	}
	return nil
}

func (s *Store) CountAltsForUser(ctx context.Context, raidID, userID string) (int, error) {
	var count int
	err := s.db.Select("COUNT(*)").From("participants").
		Where(dbx.HashExp{"raid_id": raidID, "user_id": userID, "is_alt": true}).
		WithContext(ctx).
		Row(&count)
	if err != nil {
		return 0, fmt.Errorf("count alts: %w", err)
	}
	return count, nil
}

// RemoveParticipant deletes the user's primary (non-alt) row and reports
// how many rows went away. Removing an already-absent user is a
// zero-count no-op, which keeps redelivered leave events harmless.
func (s *Store) RemoveParticipant(ctx context.Context, raidID, userID string) (int, error) {
	res, err := s.db.Delete("participants",
		dbx.HashExp{"raid_id": raidID, "user_id": userID, "is_alt": false}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("remove participant: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) RemoveUserAlts(ctx context.Context, raidID, userID string) (int, error) {
	res, err := s.db.Delete("participants",
		dbx.HashExp{"raid_id": raidID, "user_id": userID, "is_alt": true}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("remove alts: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PromoteParticipant flips one reserve row to a main seat. The update is
// conditional on the row still being a reserve, so a row promoted or
// removed since the engine snapshot is left untouched.
func (s *Store) PromoteParticipant(ctx context.Context, participantID string) (bool, error) {
	res, err := s.db.Update("participants",
		dbx.Params{"is_main": true, "is_reserve": false},
		dbx.NewExp("id={:id} AND is_reserve={:r}", dbx.Params{"id": participantID, "r": true})).
		WithContext(ctx).
		Execute()
	if err != nil {
		return false, fmt.Errorf("promote participant %s: %w", participantID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// AppendSpec appends an extra spec label onto the user's main row.
func (s *Store) AppendSpec(ctx context.Context, raidID, userID, spec string) error {
	res, err := s.db.NewQuery(
		"UPDATE participants SET joined_as = joined_as || ' / ' || {:spec} WHERE raid_id={:r} AND user_id={:u} AND is_alt=0").
		Bind(dbx.Params{"spec": spec, "r": raidID, "u": userID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("append spec: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return status.ErrStaleState
	}
	return nil
}

// SetActiveSpec rewrites the user's main row label to "<class> / <spec>",
// keeping the class part the user originally joined as.
func (s *Store) SetActiveSpec(ctx context.Context, raidID, userID, classPart, spec string) error {
	res, err := s.db.Update("participants",
		dbx.Params{"joined_as": classPart + " / " + spec},
		dbx.NewExp("raid_id={:r} AND user_id={:u} AND is_alt={:alt}",
			dbx.Params{"r": raidID, "u": userID, "alt": false})).
		WithContext(ctx).
		Execute()
	if err != nil {
		return fmt.Errorf("set active spec: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return status.ErrStaleState
	}
	return nil
}

// RemoveAllForRaid clears every participant row when a raid is cancelled.
func (s *Store) RemoveAllForRaid(ctx context.Context, raidID string) (int, error) {
	res, err := s.db.Delete("participants", dbx.HashExp{"raid_id": raidID}).
		WithContext(ctx).
		Execute()
	if err != nil {
		return 0, fmt.Errorf("clear raid %s participants: %w", raidID, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
