package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parlorgames/trivia/internal/models"
)

// PostgresStore is the durable Store implementation backed by pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects a pool for the given URL and verifies the
// connection with a ping.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pgx pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the underlying pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS lobbies (
	code                   TEXT PRIMARY KEY,
	host_session_id        TEXT NOT NULL,
	status                 TEXT NOT NULL,
	game_mode              TEXT,
	current_question_index INT NOT NULL DEFAULT 0,
	question_started_at    TIMESTAMPTZ,
	created_at             TIMESTAMPTZ NOT NULL,
	expires_at             TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS players (
	seq          BIGSERIAL,
	session_id   TEXT NOT NULL,
	lobby_code   TEXT NOT NULL REFERENCES lobbies(code) ON DELETE CASCADE,
	display_name TEXT NOT NULL,
	score        INT NOT NULL DEFAULT 0,
	is_connected BOOLEAN NOT NULL DEFAULT TRUE,
	last_seen_at TIMESTAMPTZ NOT NULL,
	joined_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (lobby_code, session_id)
);
CREATE TABLE IF NOT EXISTS player_answers (
	seq               BIGSERIAL,
	player_session_id TEXT NOT NULL,
	lobby_code        TEXT NOT NULL REFERENCES lobbies(code) ON DELETE CASCADE,
	question_index    INT NOT NULL,
	answer_index      INT NOT NULL,
	time_taken        DOUBLE PRECISION NOT NULL,
	points_earned     INT NOT NULL DEFAULT 0,
	answered_at       TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (player_session_id, lobby_code, question_index)
);`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) CreateLobby(ctx context.Context, l *models.Lobby) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lobbies (code, host_session_id, status, game_mode, current_question_index, question_started_at, created_at, expires_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`,
		l.Code, l.HostSessionID, string(l.Status), l.GameMode, l.CurrentQuestionIndex, l.QuestionStartedAt, l.CreatedAt, l.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetLobby(ctx context.Context, code string) (*models.Lobby, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT code, host_session_id, status, COALESCE(game_mode, ''), current_question_index, question_started_at, created_at, expires_at
		FROM lobbies WHERE code = $1`, code)
	var l models.Lobby
	var status string
	err := row.Scan(&l.Code, &l.HostSessionID, &status, &l.GameMode, &l.CurrentQuestionIndex, &l.QuestionStartedAt, &l.CreatedAt, &l.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.Status = models.LobbyStatus(status)
	return &l, nil
}

func (s *PostgresStore) UpdateLobby(ctx context.Context, l *models.Lobby) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE lobbies SET host_session_id = $2, status = $3, game_mode = NULLIF($4, ''),
			current_question_index = $5, question_started_at = $6, expires_at = $7
		WHERE code = $1`,
		l.Code, l.HostSessionID, string(l.Status), l.GameMode, l.CurrentQuestionIndex, l.QuestionStartedAt, l.ExpiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteLobby(ctx context.Context, code string) error {
	// Players and answers cascade via their foreign keys.
	tag, err := s.pool.Exec(ctx, `DELETE FROM lobbies WHERE code = $1`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ExpiredLobbyCodes(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT code FROM lobbies WHERE expires_at < $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *PostgresStore) CreatePlayer(ctx context.Context, p *models.Player) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO players (session_id, lobby_code, display_name, score, is_connected, last_seen_at, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.SessionID, p.LobbyCode, p.DisplayName, p.Score, p.Connected, p.LastSeenAt, p.JoinedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func scanPlayer(row pgx.Row) (*models.Player, error) {
	var p models.Player
	err := row.Scan(&p.SessionID, &p.LobbyCode, &p.DisplayName, &p.Score, &p.Connected, &p.LastSeenAt, &p.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PostgresStore) GetPlayer(ctx context.Context, code, sessionID string) (*models.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx, `
		SELECT session_id, lobby_code, display_name, score, is_connected, last_seen_at, joined_at
		FROM players WHERE lobby_code = $1 AND session_id = $2`, code, sessionID))
}

func (s *PostgresStore) FindPlayerBySession(ctx context.Context, sessionID string) (*models.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx, `
		SELECT session_id, lobby_code, display_name, score, is_connected, last_seen_at, joined_at
		FROM players WHERE session_id = $1 LIMIT 1`, sessionID))
}

func (s *PostgresStore) UpdatePlayer(ctx context.Context, p *models.Player) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE players SET display_name = $3, score = $4, is_connected = $5, last_seen_at = $6
		WHERE lobby_code = $1 AND session_id = $2`,
		p.LobbyCode, p.SessionID, p.DisplayName, p.Score, p.Connected, p.LastSeenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeletePlayer(ctx context.Context, code, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM players WHERE lobby_code = $1 AND session_id = $2`, code, sessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListPlayers(ctx context.Context, code string) ([]*models.Player, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, lobby_code, display_name, score, is_connected, last_seen_at, joined_at
		FROM players WHERE lobby_code = $1 ORDER BY seq`, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var players []*models.Player
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.SessionID, &p.LobbyCode, &p.DisplayName, &p.Score, &p.Connected, &p.LastSeenAt, &p.JoinedAt); err != nil {
			return nil, err
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

func (s *PostgresStore) CreateAnswer(ctx context.Context, a *models.PlayerAnswer) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO player_answers (player_session_id, lobby_code, question_index, answer_index, time_taken, points_earned, answered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.PlayerSessionID, a.LobbyCode, a.QuestionIndex, a.AnswerIndex, a.TimeTaken, a.PointsEarned, a.AnsweredAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) ListAnswers(ctx context.Context, code string, questionIndex int) ([]*models.PlayerAnswer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT player_session_id, lobby_code, question_index, answer_index, time_taken, points_earned, answered_at
		FROM player_answers WHERE lobby_code = $1 AND question_index = $2 ORDER BY seq`, code, questionIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []*models.PlayerAnswer
	for rows.Next() {
		var a models.PlayerAnswer
		if err := rows.Scan(&a.PlayerSessionID, &a.LobbyCode, &a.QuestionIndex, &a.AnswerIndex, &a.TimeTaken, &a.PointsEarned, &a.AnsweredAt); err != nil {
			return nil, err
		}
		answers = append(answers, &a)
	}
	return answers, rows.Err()
}
