package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// GameRecord is the end-of-game hand-off written to a ResultStore.
type GameRecord struct {
	Code        string
	Winner      Team
	Rounds      int
	PlayerCount int
	StartedAt   time.Time
	EndedAt     time.Time
	Players     []PlayerRecord
}

type PlayerRecord struct {
	SessionID SessionID
	Name      string
	Role      Role
	Won       bool
}

// LeaderboardEntry aggregates one session's finished games.
type LeaderboardEntry struct {
	Name  string `db:"name" json:"name"`
	Wins  int64  `db:"wins" json:"wins"`
	Games int64  `db:"games" json:"games"`
}

// ResultStore persists finished games. The game engine only ever writes; the
// HTTP layer reads the leaderboard.
type ResultStore interface {
	RecordGame(ctx context.Context, rec GameRecord) error
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	Close() error
}

// openResultStore picks the backend from the DSN: empty disables results,
// a postgres URL uses pgx, anything else is a sqlite path.
func openResultStore(ctx context.Context, dsn string) (ResultStore, error) {
	switch {
	case dsn == "":
		log.Printf("Results: disabled (no db configured)")
		return nil, nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		store, err := openPGResultStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := openSQLiteResultStore(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

type sqliteResultStore struct {
	db *sqlx.DB
}

const sqliteSchema = `
	PRAGMA journal_mode=WAL;

	CREATE TABLE IF NOT EXISTS game_result (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		winner TEXT NOT NULL,
		rounds INTEGER NOT NULL,
		player_count INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS player_result (
		game_id INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		won INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (game_id) REFERENCES game_result(id),
		UNIQUE(game_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_player_result_session ON player_result(session_id);
`

func openSQLiteResultStore(dsn string) (*sqliteResultStore, error) {
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect sqlite: %w", err)
	}
	// sqlite allows a single writer; in-memory databases also vanish per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	log.Printf("Results: sqlite store at %s", dsn)
	return &sqliteResultStore{db: db}, nil
}

func (s *sqliteResultStore) RecordGame(ctx context.Context, rec GameRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO game_result (code, winner, rounds, player_count, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Code, string(rec.Winner), rec.Rounds, rec.PlayerCount, rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert game_result: %w", err)
	}
	gameID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, p := range rec.Players {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_result (game_id, session_id, name, role, won)
			VALUES (?, ?, ?, ?, ?)`,
			gameID, string(p.SessionID), p.Name, string(p.Role), p.Won)
		if err != nil {
			return fmt.Errorf("insert player_result: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteResultStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	entries := []LeaderboardEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT MAX(name) AS name, SUM(won) AS wins, COUNT(*) AS games
		FROM player_result
		GROUP BY session_id
		ORDER BY wins DESC, games DESC, name ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *sqliteResultStore) Close() error {
	return s.db.Close()
}
