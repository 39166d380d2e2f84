package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"GOSAFE_BACK-END/internal/models"
)

//go:embed schema/postgres.sql
var postgresSchema string

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres is the production backend over a pgx connection pool.
type Postgres struct {
	pgQueries
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pgQueries: pgQueries{db: pool}, pool: pool}
}

// Migrate creates missing tables and indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) InTx(ctx context.Context, fn func(q Queries) error) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return fn(&pgQueries{db: tx})
	})
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

type pgQueries struct {
	db dbtx
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------- locations ----------

func (q *pgQueries) InsertLocation(ctx context.Context, loc *models.Location) error {
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now().UTC()
	}
	return q.db.QueryRow(ctx,
		`INSERT INTO locations (latitude, longitude, name, created_at)
         VALUES ($1, $2, $3, $4) RETURNING id`,
		loc.Latitude, loc.Longitude, loc.Name, loc.Timestamp,
	).Scan(&loc.ID)
}

func (q *pgQueries) GetLocation(ctx context.Context, id int64) (*models.Location, error) {
	var loc models.Location
	err := q.db.QueryRow(ctx,
		`SELECT id, latitude, longitude, name, created_at FROM locations WHERE id = $1`, id,
	).Scan(&loc.ID, &loc.Latitude, &loc.Longitude, &loc.Name, &loc.Timestamp)
	if err != nil {
		return nil, notFound(err)
	}
	return &loc, nil
}

// ---------- journeys ----------

const pgJourneyColumns = `id, group_id, creator_id, journey_type, state, ini_date, end_date`

func scanPgJourney(row pgx.Row) (*models.Journey, error) {
	var j models.Journey
	var jt, st string
	if err := row.Scan(&j.ID, &j.GroupID, &j.CreatorID, &jt, &st, &j.IniDate, &j.EndDate); err != nil {
		return nil, err
	}
	j.Type = models.JourneyType(jt)
	j.State = models.JourneyState(st)
	return &j, nil
}

func (q *pgQueries) InsertJourney(ctx context.Context, j *models.Journey) (bool, error) {
	// journeys_one_active_per_group turns a second active journey into a no-op insert
	err := q.db.QueryRow(ctx,
		`INSERT INTO journeys (group_id, creator_id, journey_type, state, ini_date)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT DO NOTHING
         RETURNING id`,
		j.GroupID, j.CreatorID, string(j.Type), string(j.State), j.IniDate,
	).Scan(&j.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *pgQueries) GetJourney(ctx context.Context, id int64) (*models.Journey, error) {
	j, err := scanPgJourney(q.db.QueryRow(ctx,
		`SELECT `+pgJourneyColumns+` FROM journeys WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

func (q *pgQueries) GetActiveJourney(ctx context.Context, groupID int64) (*models.Journey, error) {
	j, err := scanPgJourney(q.db.QueryRow(ctx,
		`SELECT `+pgJourneyColumns+` FROM journeys
          WHERE group_id = $1 AND state = ANY($2)
          LIMIT 1`, groupID, stateStrings(models.ActiveJourneyStates)))
	if err != nil {
		return nil, notFound(err)
	}
	return j, nil
}

func (q *pgQueries) ListJourneys(ctx context.Context, groupID int64) ([]models.Journey, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+pgJourneyColumns+` FROM journeys WHERE group_id = $1 ORDER BY ini_date DESC, id DESC`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.Journey, 0)
	for rows.Next() {
		j, err := scanPgJourney(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *j)
	}
	return items, rows.Err()
}

func (q *pgQueries) UpdateJourneyState(ctx context.Context, id int64, from, to models.JourneyState, endDate *time.Time) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE journeys SET state = $1, end_date = COALESCE($2, end_date)
          WHERE id = $3 AND state = $4`,
		string(to), endDate, id, string(from))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ---------- participations ----------

const pgParticipationColumns = `id, journey_id, user_id, state, source_id, destination_id, shared_location, created_at, updated_at`

func scanPgParticipation(row pgx.Row) (*models.Participation, error) {
	var p models.Participation
	var st string
	if err := row.Scan(&p.ID, &p.JourneyID, &p.UserID, &st, &p.SourceID, &p.DestinationID,
		&p.SharedLocation, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.State = models.ParticipationState(st)
	return &p, nil
}

func (q *pgQueries) InsertParticipation(ctx context.Context, p *models.Participation) (bool, error) {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	err := q.db.QueryRow(ctx,
		`INSERT INTO participations (journey_id, user_id, state, source_id, destination_id, shared_location, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
         ON CONFLICT (journey_id, user_id) DO NOTHING
         RETURNING id`,
		p.JourneyID, p.UserID, string(p.State), p.SourceID, p.DestinationID, p.SharedLocation, now,
	).Scan(&p.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *pgQueries) GetParticipation(ctx context.Context, id int64) (*models.Participation, error) {
	p, err := scanPgParticipation(q.db.QueryRow(ctx,
		`SELECT `+pgParticipationColumns+` FROM participations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (q *pgQueries) FindParticipation(ctx context.Context, journeyID, userID int64) (*models.Participation, error) {
	p, err := scanPgParticipation(q.db.QueryRow(ctx,
		`SELECT `+pgParticipationColumns+` FROM participations WHERE journey_id = $1 AND user_id = $2`,
		journeyID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return p, nil
}

func (q *pgQueries) ListParticipations(ctx context.Context, journeyID int64) ([]models.Participation, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+pgParticipationColumns+` FROM participations WHERE journey_id = $1 ORDER BY id`, journeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.Participation, 0)
	for rows.Next() {
		p, err := scanPgParticipation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *p)
	}
	return items, rows.Err()
}

func (q *pgQueries) UpdateParticipationState(ctx context.Context, id int64, from, to models.ParticipationState) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE participations SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *pgQueries) SetParticipationSharing(ctx context.Context, id int64, shared bool) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE participations SET shared_location = $1, updated_at = $2 WHERE id = $3`,
		shared, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ---------- companion requests ----------

const pgCompanionColumns = `id, creator_id, companion_id, source_id, destination_id, description, aprox_hour,
       companion_message, companion_group_id, state, created_at, updated_at`

func scanPgCompanion(row pgx.Row) (*models.CompanionRequest, error) {
	var r models.CompanionRequest
	var st string
	if err := row.Scan(&r.ID, &r.CreatorID, &r.CompanionID, &r.SourceID, &r.DestinationID, &r.Description,
		&r.AproxHour, &r.CompanionMessage, &r.CompanionGroupID, &st, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.State = models.CompanionState(st)
	return &r, nil
}

func (q *pgQueries) InsertCompanionRequest(ctx context.Context, r *models.CompanionRequest) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	return q.db.QueryRow(ctx,
		`INSERT INTO companion_requests (creator_id, source_id, destination_id, description, aprox_hour, state, created_at, updated_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
         RETURNING id`,
		r.CreatorID, r.SourceID, r.DestinationID, r.Description, r.AproxHour, string(r.State), now,
	).Scan(&r.ID)
}

func (q *pgQueries) GetCompanionRequest(ctx context.Context, id int64) (*models.CompanionRequest, error) {
	r, err := scanPgCompanion(q.db.QueryRow(ctx,
		`SELECT `+pgCompanionColumns+` FROM companion_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (q *pgQueries) ListCompanionRequests(ctx context.Context, f CompanionFilter) ([]models.CompanionRequest, error) {
	var states []string
	if len(f.States) > 0 {
		states = stateStrings(f.States)
	}
	var before *time.Time
	if !f.CreatedBefore.IsZero() {
		before = &f.CreatedBefore
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.Query(ctx,
		`SELECT `+pgCompanionColumns+` FROM companion_requests
          WHERE ($1::text[] IS NULL OR state = ANY($1))
            AND ($2::bigint = 0 OR creator_id = $2)
            AND ($3::timestamptz IS NULL OR created_at < $3)
          ORDER BY created_at DESC, id DESC
          LIMIT $4`, states, f.CreatorID, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]models.CompanionRequest, 0)
	for rows.Next() {
		r, err := scanPgCompanion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *r)
	}
	return items, rows.Err()
}

func (q *pgQueries) ApplyCompanion(ctx context.Context, id, applicantID int64, message *string) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE companion_requests
            SET companion_id = $1, companion_message = $2, state = 'PENDING', updated_at = $3
          WHERE id = $4 AND state IN ('CREATED', 'PENDING')`,
		applicantID, message, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *pgQueries) ClearCompanion(ctx context.Context, id int64) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE companion_requests
            SET companion_id = NULL, companion_message = NULL, state = 'CREATED', updated_at = $1
          WHERE id = $2 AND state = 'PENDING'`,
		time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *pgQueries) MatchCompanion(ctx context.Context, id, companionID int64) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE companion_requests SET state = 'MATCHED', updated_at = $1
          WHERE id = $2 AND state = 'PENDING' AND companion_id = $3`,
		time.Now().UTC(), id, companionID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *pgQueries) SetCompanionGroup(ctx context.Context, id, groupID int64) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE companion_requests SET companion_group_id = $1, state = 'IN_PROGRESS', updated_at = $2
          WHERE id = $3 AND state = 'MATCHED'`,
		groupID, time.Now().UTC(), id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *pgQueries) UpdateCompanionState(ctx context.Context, id int64, from []models.CompanionState, to models.CompanionState) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE companion_requests SET state = $1, updated_at = $2 WHERE id = $3 AND state = ANY($4)`,
		string(to), time.Now().UTC(), id, stateStrings(from))
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ---------- groups ----------

func (q *pgQueries) InsertGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	if err := q.db.QueryRow(ctx,
		`INSERT INTO travel_groups (name, companion_request_id, created_at) VALUES ($1, $2, $3) RETURNING id`,
		g.Name, g.CompanionRequestID, g.CreatedAt,
	).Scan(&g.ID); err != nil {
		return err
	}
	for _, uid := range g.Members {
		if _, err := q.db.Exec(ctx,
			`INSERT INTO travel_group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			g.ID, uid); err != nil {
			return err
		}
	}
	return nil
}

func (q *pgQueries) FindGroupByRequest(ctx context.Context, requestID int64) (*models.Group, error) {
	var g models.Group
	err := q.db.QueryRow(ctx,
		`SELECT id, name, companion_request_id, created_at FROM travel_groups WHERE companion_request_id = $1`,
		requestID,
	).Scan(&g.ID, &g.Name, &g.CompanionRequestID, &g.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}

	rows, err := q.db.Query(ctx,
		`SELECT user_id FROM travel_group_members WHERE group_id = $1 ORDER BY user_id`, g.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		g.Members = append(g.Members, uid)
	}
	return &g, rows.Err()
}

// ---------- notifications ----------

func (q *pgQueries) InsertNotification(ctx context.Context, n *models.Notification) error {
	var data any
	if len(n.Data) > 0 {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("marshal notification data: %w", err)
		}
		data = string(b)
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cmd, err := q.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, data, created_at)
         VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, data, n.CreatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() != 1 {
		return errors.New("unexpected number of rows affected")
	}
	return nil
}

func (q *pgQueries) ListNotifications(ctx context.Context, userID int64, f NotificationFilter) (NotificationPage, error) {
	var page NotificationPage
	if err := q.db.QueryRow(ctx,
		`SELECT COUNT(1),
                COUNT(1) FILTER (WHERE read = false)
           FROM notifications
          WHERE user_id = $1
            AND ($2 = false OR read = false)
            AND ($3 = '' OR type = $3)`,
		userID, f.UnreadOnly, f.Type,
	).Scan(&page.Total, &page.Unread); err != nil {
		return page, err
	}

	rows, err := q.db.Query(ctx,
		`SELECT id, user_id, type, title, message, COALESCE(data::text, ''), read, created_at
           FROM notifications
          WHERE user_id = $1
            AND ($2 = false OR read = false)
            AND ($3 = '' OR type = $3)
          ORDER BY created_at DESC
          LIMIT $4 OFFSET $5`,
		userID, f.UnreadOnly, f.Type, f.Limit, f.Offset)
	if err != nil {
		return page, err
	}
	defer rows.Close()

	page.Items = make([]models.Notification, 0, f.Limit)
	for rows.Next() {
		var n models.Notification
		var typ, data string
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message, &data, &n.Read, &n.CreatedAt); err != nil {
			return page, err
		}
		n.Type = models.NotificationType(typ)
		if data != "" {
			_ = json.Unmarshal([]byte(data), &n.Data)
		}
		page.Items = append(page.Items, n)
	}
	return page, rows.Err()
}

func (q *pgQueries) MarkNotificationRead(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE notifications SET read = true WHERE id = $1 AND user_id = $2 AND read = false`, id, userID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (q *pgQueries) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	cmd, err := q.db.Exec(ctx,
		`UPDATE notifications SET read = true WHERE user_id = $1 AND read = false`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
