package match

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives finished games in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

const upsertGame = `INSERT INTO engine_games (
    game_id, round, white_name, black_name, time_control, variant, start_fen,
    result, result_reason, termination, moves_uci, moves_san, evals, pgn,
    started_at, ended_at, duration_ms
  ) VALUES (
    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17
  ) ON CONFLICT (game_id) DO UPDATE SET
    round=EXCLUDED.round,
    white_name=EXCLUDED.white_name,
    black_name=EXCLUDED.black_name,
    time_control=EXCLUDED.time_control,
    variant=EXCLUDED.variant,
    start_fen=EXCLUDED.start_fen,
    result=EXCLUDED.result,
    result_reason=EXCLUDED.result_reason,
    termination=EXCLUDED.termination,
    moves_uci=EXCLUDED.moves_uci,
    moves_san=EXCLUDED.moves_san,
    evals=EXCLUDED.evals,
    pgn=EXCLUDED.pgn,
    started_at=EXCLUDED.started_at,
    ended_at=EXCLUDED.ended_at,
    duration_ms=EXCLUDED.duration_ms`

// SaveGame upserts a finished game.
func (r *Repository) SaveGame(ctx context.Context, rec *Record) error {
	if r == nil || r.db == nil || rec == nil {
		return nil
	}
	args, err := gameArgs(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, upsertGame, args...)
	return err
}

func gameArgs(rec *Record) ([]any, error) {
	movesUCI, err := json.Marshal(nonNil(rec.MovesUCI))
	if err != nil {
		return nil, err
	}
	movesSAN, err := json.Marshal(nonNil(rec.MovesSAN))
	if err != nil {
		return nil, err
	}
	evals := rec.Evals
	if evals == nil {
		evals = []MoveEval{}
	}
	evalsRaw, err := json.Marshal(evals)
	if err != nil {
		return nil, err
	}
	return []any{
		rec.ID, rec.Round,
		rec.White, rec.Black,
		rec.TimeControl, rec.Variant, rec.StartFEN,
		rec.Result, rec.Reason, rec.Termination,
		string(movesUCI), string(movesSAN), string(evalsRaw), rec.PGN,
		rec.StartedAt, rec.EndedAt, rec.Duration().Milliseconds(),
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
