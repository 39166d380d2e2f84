package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"GOSAFE_BACK-END/internal/models"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLite is an embedded backend for single-node deployments and tests.
// Timestamps are stored as unix nanoseconds.
type SQLite struct {
	sqliteQueries
	path string
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string, poolSize int) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if poolSize <= 0 {
		poolSize = 4
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening %s: %w", path, err)
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite: take: %w", err)
	}
	err = sqlitex.ExecuteScript(conn, sqliteSchema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &SQLite{sqliteQueries: sqliteQueries{pool: pool}, path: path}, nil
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) InTx(ctx context.Context, fn func(q Queries) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer endFn(&err)

	return fn(&sqliteQueries{pool: s.pool, tx: conn})
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.exec(ctx, "SELECT 1", nil, nil)
}

func (s *SQLite) Close() {
	_ = s.pool.Close()
}

// sqliteQueries runs on the transaction connection when tx is set,
// otherwise on a connection borrowed from the pool for one statement.
type sqliteQueries struct {
	pool *sqlitex.Pool
	tx   *sqlite.Conn
}

func (q *sqliteQueries) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	if q.tx != nil {
		return fn(q.tx)
	}
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlite: take: %w", err)
	}
	defer q.pool.Put(conn)
	return fn(conn)
}

func (q *sqliteQueries) exec(ctx context.Context, query string, args []any, result func(stmt *sqlite.Stmt) error) error {
	return q.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: result})
	})
}

// update runs a write and reports whether exactly one row changed.
func (q *sqliteQueries) update(ctx context.Context, query string, args ...any) (bool, error) {
	var changed int
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		changed = conn.Changes()
		return nil
	})
	return changed == 1, err
}

// insert runs an insert and returns the new rowid, or 0 if a conflict clause swallowed it.
func (q *sqliteQueries) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
			return err
		}
		if conn.Changes() == 1 {
			id = conn.LastInsertRowID()
		}
		return nil
	})
	return id, err
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullText(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(p *time.Time) any {
	if p == nil {
		return nil
	}
	return nanos(*p)
}

func colInt(stmt *sqlite.Stmt, col int) *int64 {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	v := stmt.ColumnInt64(col)
	return &v
}

func colText(stmt *sqlite.Stmt, col int) *string {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	v := stmt.ColumnText(col)
	return &v
}

func colTime(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	v := fromNanos(stmt.ColumnInt64(col))
	return &v
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ---------- locations ----------

func (q *sqliteQueries) InsertLocation(ctx context.Context, loc *models.Location) error {
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now().UTC()
	}
	id, err := q.insert(ctx,
		`INSERT INTO locations (latitude, longitude, name, created_at) VALUES (?, ?, ?, ?)`,
		loc.Latitude, loc.Longitude, nullText(loc.Name), nanos(loc.Timestamp))
	if err != nil {
		return err
	}
	loc.ID = id
	return nil
}

func (q *sqliteQueries) GetLocation(ctx context.Context, id int64) (*models.Location, error) {
	var loc *models.Location
	err := q.exec(ctx, `SELECT id, latitude, longitude, name, created_at FROM locations WHERE id = ?`,
		[]any{id}, func(stmt *sqlite.Stmt) error {
			loc = &models.Location{
				ID:        stmt.ColumnInt64(0),
				Latitude:  stmt.ColumnFloat(1),
				Longitude: stmt.ColumnFloat(2),
				Name:      colText(stmt, 3),
				Timestamp: fromNanos(stmt.ColumnInt64(4)),
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if loc == nil {
		return nil, ErrNotFound
	}
	return loc, nil
}

// ---------- journeys ----------

const sqliteJourneyColumns = `id, group_id, creator_id, journey_type, state, ini_date, end_date`

func scanSqliteJourney(stmt *sqlite.Stmt) models.Journey {
	return models.Journey{
		ID:        stmt.ColumnInt64(0),
		GroupID:   stmt.ColumnInt64(1),
		CreatorID: stmt.ColumnInt64(2),
		Type:      models.JourneyType(stmt.ColumnText(3)),
		State:     models.JourneyState(stmt.ColumnText(4)),
		IniDate:   fromNanos(stmt.ColumnInt64(5)),
		EndDate:   colTime(stmt, 6),
	}
}

func (q *sqliteQueries) journeyQuery(ctx context.Context, query string, args ...any) ([]models.Journey, error) {
	items := make([]models.Journey, 0)
	err := q.exec(ctx, query, args, func(stmt *sqlite.Stmt) error {
		items = append(items, scanSqliteJourney(stmt))
		return nil
	})
	return items, err
}

func (q *sqliteQueries) InsertJourney(ctx context.Context, j *models.Journey) (bool, error) {
	id, err := q.insert(ctx,
		`INSERT INTO journeys (group_id, creator_id, journey_type, state, ini_date)
         VALUES (?, ?, ?, ?, ?)
         ON CONFLICT DO NOTHING`,
		j.GroupID, j.CreatorID, string(j.Type), string(j.State), nanos(j.IniDate))
	if err != nil || id == 0 {
		return false, err
	}
	j.ID = id
	return true, nil
}

func (q *sqliteQueries) GetJourney(ctx context.Context, id int64) (*models.Journey, error) {
	items, err := q.journeyQuery(ctx, `SELECT `+sqliteJourneyColumns+` FROM journeys WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

func (q *sqliteQueries) GetActiveJourney(ctx context.Context, groupID int64) (*models.Journey, error) {
	items, err := q.journeyQuery(ctx,
		`SELECT `+sqliteJourneyColumns+` FROM journeys
          WHERE group_id = ? AND state IN ('PENDING', 'IN_PROGRESS')
          LIMIT 1`, groupID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

func (q *sqliteQueries) ListJourneys(ctx context.Context, groupID int64) ([]models.Journey, error) {
	return q.journeyQuery(ctx,
		`SELECT `+sqliteJourneyColumns+` FROM journeys WHERE group_id = ? ORDER BY ini_date DESC, id DESC`, groupID)
}

func (q *sqliteQueries) UpdateJourneyState(ctx context.Context, id int64, from, to models.JourneyState, endDate *time.Time) (bool, error) {
	return q.update(ctx,
		`UPDATE journeys SET state = ?, end_date = COALESCE(?, end_date) WHERE id = ? AND state = ?`,
		string(to), nullTime(endDate), id, string(from))
}

// ---------- participations ----------

const sqliteParticipationColumns = `id, journey_id, user_id, state, source_id, destination_id, shared_location, created_at, updated_at`

func scanSqliteParticipation(stmt *sqlite.Stmt) models.Participation {
	return models.Participation{
		ID:             stmt.ColumnInt64(0),
		JourneyID:      stmt.ColumnInt64(1),
		UserID:         stmt.ColumnInt64(2),
		State:          models.ParticipationState(stmt.ColumnText(3)),
		SourceID:       stmt.ColumnInt64(4),
		DestinationID:  colInt(stmt, 5),
		SharedLocation: stmt.ColumnInt64(6) != 0,
		CreatedAt:      fromNanos(stmt.ColumnInt64(7)),
		UpdatedAt:      fromNanos(stmt.ColumnInt64(8)),
	}
}

func (q *sqliteQueries) participationQuery(ctx context.Context, query string, args ...any) ([]models.Participation, error) {
	items := make([]models.Participation, 0)
	err := q.exec(ctx, query, args, func(stmt *sqlite.Stmt) error {
		items = append(items, scanSqliteParticipation(stmt))
		return nil
	})
	return items, err
}

func (q *sqliteQueries) InsertParticipation(ctx context.Context, p *models.Participation) (bool, error) {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	id, err := q.insert(ctx,
		`INSERT INTO participations (journey_id, user_id, state, source_id, destination_id, shared_location, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (journey_id, user_id) DO NOTHING`,
		p.JourneyID, p.UserID, string(p.State), p.SourceID, nullInt(p.DestinationID), p.SharedLocation,
		nanos(now), nanos(now))
	if err != nil || id == 0 {
		return false, err
	}
	p.ID = id
	return true, nil
}

func (q *sqliteQueries) GetParticipation(ctx context.Context, id int64) (*models.Participation, error) {
	items, err := q.participationQuery(ctx,
		`SELECT `+sqliteParticipationColumns+` FROM participations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

func (q *sqliteQueries) FindParticipation(ctx context.Context, journeyID, userID int64) (*models.Participation, error) {
	items, err := q.participationQuery(ctx,
		`SELECT `+sqliteParticipationColumns+` FROM participations WHERE journey_id = ? AND user_id = ?`,
		journeyID, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return &items[0], nil
}

func (q *sqliteQueries) ListParticipations(ctx context.Context, journeyID int64) ([]models.Participation, error) {
	return q.participationQuery(ctx,
		`SELECT `+sqliteParticipationColumns+` FROM participations WHERE journey_id = ? ORDER BY id`, journeyID)
}

func (q *sqliteQueries) UpdateParticipationState(ctx context.Context, id int64, from, to models.ParticipationState) (bool, error) {
	return q.update(ctx,
		`UPDATE participations SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(to), nanos(time.Now()), id, string(from))
}

func (q *sqliteQueries) SetParticipationSharing(ctx context.Context, id int64, shared bool) (bool, error) {
	return q.update(ctx,
		`UPDATE participations SET shared_location = ?, updated_at = ? WHERE id = ?`,
		shared, nanos(time.Now()), id)
}

// ---------- companion requests ----------

const sqliteCompanionColumns = `id, creator_id, companion_id, source_id, destination_id, description, aprox_hour,
       companion_message, companion_group_id, state, created_at, updated_at`

func scanSqliteCompanion(stmt *sqlite.Stmt) models.CompanionRequest {
	return models.CompanionRequest{
		ID:               stmt.ColumnInt64(0),
		CreatorID:        stmt.ColumnInt64(1),
		CompanionID:      colInt(stmt, 2),
		SourceID:         stmt.ColumnInt64(3),
		DestinationID:    stmt.ColumnInt64(4),
		Description:      colText(stmt, 5),
		AproxHour:        colText(stmt, 6),
		CompanionMessage: colText(stmt, 7),
		CompanionGroupID: colInt(stmt, 8),
		State:            models.CompanionState(stmt.ColumnText(9)),
		CreatedAt:        fromNanos(stmt.ColumnInt64(10)),
		UpdatedAt:        fromNanos(stmt.ColumnInt64(11)),
	}
}

func (q *sqliteQueries) InsertCompanionRequest(ctx context.Context, r *models.CompanionRequest) error {
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	id, err := q.insert(ctx,
		`INSERT INTO companion_requests (creator_id, source_id, destination_id, description, aprox_hour, state, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CreatorID, r.SourceID, r.DestinationID, nullText(r.Description), nullText(r.AproxHour),
		string(r.State), nanos(now), nanos(now))
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

func (q *sqliteQueries) GetCompanionRequest(ctx context.Context, id int64) (*models.CompanionRequest, error) {
	var r *models.CompanionRequest
	err := q.exec(ctx, `SELECT `+sqliteCompanionColumns+` FROM companion_requests WHERE id = ?`,
		[]any{id}, func(stmt *sqlite.Stmt) error {
			v := scanSqliteCompanion(stmt)
			r = &v
			return nil
		})
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNotFound
	}
	return r, nil
}

func (q *sqliteQueries) ListCompanionRequests(ctx context.Context, f CompanionFilter) ([]models.CompanionRequest, error) {
	var where []string
	var args []any
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		args = append(args, anySlice(stateStrings(f.States))...)
	}
	if f.CreatorID != 0 {
		where = append(where, "creator_id = ?")
		args = append(args, f.CreatorID)
	}
	if !f.CreatedBefore.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, nanos(f.CreatedBefore))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + sqliteCompanionColumns + ` FROM companion_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	items := make([]models.CompanionRequest, 0)
	err := q.exec(ctx, query, args, func(stmt *sqlite.Stmt) error {
		items = append(items, scanSqliteCompanion(stmt))
		return nil
	})
	return items, err
}

func (q *sqliteQueries) ApplyCompanion(ctx context.Context, id, applicantID int64, message *string) (bool, error) {
	return q.update(ctx,
		`UPDATE companion_requests
            SET companion_id = ?, companion_message = ?, state = 'PENDING', updated_at = ?
          WHERE id = ? AND state IN ('CREATED', 'PENDING')`,
		applicantID, nullText(message), nanos(time.Now()), id)
}

func (q *sqliteQueries) ClearCompanion(ctx context.Context, id int64) (bool, error) {
	return q.update(ctx,
		`UPDATE companion_requests
            SET companion_id = NULL, companion_message = NULL, state = 'CREATED', updated_at = ?
          WHERE id = ? AND state = 'PENDING'`,
		nanos(time.Now()), id)
}

func (q *sqliteQueries) MatchCompanion(ctx context.Context, id, companionID int64) (bool, error) {
	return q.update(ctx,
		`UPDATE companion_requests SET state = 'MATCHED', updated_at = ?
          WHERE id = ? AND state = 'PENDING' AND companion_id = ?`,
		nanos(time.Now()), id, companionID)
}

func (q *sqliteQueries) SetCompanionGroup(ctx context.Context, id, groupID int64) (bool, error) {
	return q.update(ctx,
		`UPDATE companion_requests SET companion_group_id = ?, state = 'IN_PROGRESS', updated_at = ?
          WHERE id = ? AND state = 'MATCHED'`,
		groupID, nanos(time.Now()), id)
}

func (q *sqliteQueries) UpdateCompanionState(ctx context.Context, id int64, from []models.CompanionState, to models.CompanionState) (bool, error) {
	args := []any{string(to), nanos(time.Now()), id}
	args = append(args, anySlice(stateStrings(from))...)
	return q.update(ctx,
		`UPDATE companion_requests SET state = ?, updated_at = ?
          WHERE id = ? AND state IN (`+placeholders(len(from))+`)`, args...)
}

// ---------- groups ----------

func (q *sqliteQueries) InsertGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	id, err := q.insert(ctx,
		`INSERT INTO travel_groups (name, companion_request_id, created_at) VALUES (?, ?, ?)`,
		g.Name, nullInt(g.CompanionRequestID), nanos(g.CreatedAt))
	if err != nil {
		return err
	}
	g.ID = id
	for _, uid := range g.Members {
		if _, err := q.insert(ctx,
			`INSERT INTO travel_group_members (group_id, user_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
			g.ID, uid); err != nil {
			return err
		}
	}
	return nil
}

func (q *sqliteQueries) FindGroupByRequest(ctx context.Context, requestID int64) (*models.Group, error) {
	var g *models.Group
	err := q.exec(ctx,
		`SELECT id, name, companion_request_id, created_at FROM travel_groups WHERE companion_request_id = ?`,
		[]any{requestID}, func(stmt *sqlite.Stmt) error {
			g = &models.Group{
				ID:                 stmt.ColumnInt64(0),
				Name:               stmt.ColumnText(1),
				CompanionRequestID: colInt(stmt, 2),
				CreatedAt:          fromNanos(stmt.ColumnInt64(3)),
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, ErrNotFound
	}
	err = q.exec(ctx, `SELECT user_id FROM travel_group_members WHERE group_id = ? ORDER BY user_id`,
		[]any{g.ID}, func(stmt *sqlite.Stmt) error {
			g.Members = append(g.Members, stmt.ColumnInt64(0))
			return nil
		})
	return g, err
}

// ---------- notifications ----------

func (q *sqliteQueries) InsertNotification(ctx context.Context, n *models.Notification) error {
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
	_, err := q.insert(ctx,
		`INSERT INTO notifications (id, user_id, type, title, message, data, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID.String(), n.UserID, string(n.Type), n.Title, nullText(n.Message), data, nanos(n.CreatedAt))
	return err
}

func (q *sqliteQueries) ListNotifications(ctx context.Context, userID int64, f NotificationFilter) (NotificationPage, error) {
	var page NotificationPage
	where := `user_id = ? AND (? = 0 OR read = 0) AND (? = '' OR type = ?)`
	args := []any{userID, f.UnreadOnly, f.Type, f.Type}

	err := q.exec(ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN read = 0 THEN 1 ELSE 0 END), 0) FROM notifications WHERE `+where,
		args, func(stmt *sqlite.Stmt) error {
			page.Total = int(stmt.ColumnInt64(0))
			page.Unread = int(stmt.ColumnInt64(1))
			return nil
		})
	if err != nil {
		return page, err
	}

	page.Items = make([]models.Notification, 0, f.Limit)
	err = q.exec(ctx,
		`SELECT id, user_id, type, title, message, data, read, created_at FROM notifications
          WHERE `+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, f.Limit, f.Offset), func(stmt *sqlite.Stmt) error {
			id, err := uuid.Parse(stmt.ColumnText(0))
			if err != nil {
				return err
			}
			n := models.Notification{
				ID:        id,
				UserID:    stmt.ColumnInt64(1),
				Type:      models.NotificationType(stmt.ColumnText(2)),
				Title:     stmt.ColumnText(3),
				Message:   colText(stmt, 4),
				Read:      stmt.ColumnInt64(6) != 0,
				CreatedAt: fromNanos(stmt.ColumnInt64(7)),
			}
			if data := colText(stmt, 5); data != nil {
				_ = json.Unmarshal([]byte(*data), &n.Data)
			}
			page.Items = append(page.Items, n)
			return nil
		})
	return page, err
}

func (q *sqliteQueries) MarkNotificationRead(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	return q.update(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ? AND read = 0`, id.String(), userID)
}

func (q *sqliteQueries) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	var changed int
	err := q.withConn(ctx, func(conn *sqlite.Conn) error {
		if err := sqlitex.Execute(conn,
			`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`,
			&sqlitex.ExecOptions{Args: []any{userID}}); err != nil {
			return err
		}
		changed = conn.Changes()
		return nil
	})
	return int64(changed), err
}
