package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
	CREATE TABLE IF NOT EXISTS game_result (
		id BIGSERIAL PRIMARY KEY,
		code TEXT NOT NULL,
		winner TEXT NOT NULL,
		rounds INTEGER NOT NULL,
		player_count INTEGER NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS player_result (
		game_id BIGINT NOT NULL REFERENCES game_result(id) ON DELETE CASCADE,
		session_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		won BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(game_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_player_result_session ON player_result(session_id);
`

type pgResultStore struct {
	pool *pgxpool.Pool
}

func openPGResultStore(ctx context.Context, dsn string) (*pgResultStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	log.Printf("Results: postgres store connected")
	return &pgResultStore{pool: pool}, nil
}

func (s *pgResultStore) RecordGame(ctx context.Context, rec GameRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var gameID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO game_result (code, winner, rounds, player_count, started_at, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			rec.Code, string(rec.Winner), rec.Rounds, rec.PlayerCount, rec.StartedAt, rec.EndedAt,
		).Scan(&gameID)
		if err != nil {
			return fmt.Errorf("insert game_result: %w", err)
		}

		batch := &pgx.Batch{}
		for _, p := range rec.Players {
			batch.Queue(`
				INSERT INTO player_result (game_id, session_id, name, role, won)
				VALUES ($1, $2, $3, $4, $5)`,
				gameID, string(p.SessionID), p.Name, string(p.Role), p.Won)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert player_result: %w", err)
		}
		return nil
	})
}

func (s *pgResultStore) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT MAX(name) AS name,
		       COUNT(*) FILTER (WHERE won) AS wins,
		       COUNT(*) AS games
		FROM player_result
		GROUP BY session_id
		ORDER BY wins DESC, games DESC, name ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[LeaderboardEntry])
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []LeaderboardEntry{}
	}
	return entries, nil
}

func (s *pgResultStore) Close() error {
	s.pool.Close()
	return nil
}
