package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"arbiter/internal/track"
)

// Row is one team's best recorded scores on a track.
type Row struct {
	Team      string
	Values    map[string]float64
	Rank      int
	UpdatedAt time.Time
}

// Primary returns the value of the track's primary column.
func (r Row) Primary(def track.Definition) float64 {
	if v, ok := r.Values[def.Primary]; ok {
		return v
	}
	return math.NaN()
}

// Scored reports whether the row holds a real result rather than the
// lazily created sentinel values.
func (r Row) Scored() bool {
	return !r.UpdatedAt.IsZero()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func selectColumns(def track.Definition) string {
	return "team, " + strings.Join(def.ColumnNames(), ", ") + ", updated_at"
}

// GetTop returns up to n rows ordered by the primary column, best first, ties
// broken by team name. n <= 0 returns every row. Ranks start at 1.
func (s *Store) GetTop(ctx context.Context, id track.ID, n int) ([]Row, error) {
	ctx = ensureContext(ctx)
	def, err := definition(id)
	if err != nil {
		return nil, err
	}
	order := "ASC"
	if def.Direction == track.HigherIsBetter {
		order = "DESC"
	}
	limit := n
	if limit <= 0 {
		limit = -1
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s %s, team ASC LIMIT ?",
		selectColumns(def), def.Table, def.Primary, order)

	var rows []Row
	err = retryOnBusy(ctx, func() error {
		rows = rows[:0]
		result, qerr := s.db.QueryContext(ctx, query, limit)
		if qerr != nil {
			return qerr
		}
		defer result.Close()
		for result.Next() {
			row, serr := scanRow(result, def)
			if serr != nil {
				return serr
			}
			row.Rank = len(rows) + 1
			rows = append(rows, row)
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query %s leaderboard: %w", id, err)
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows, nil
}

// GetBest returns the team's row, inserting the sentinel row when the team has
// none yet.
func (s *Store) GetBest(ctx context.Context, id track.ID, team string) (Row, error) {
	ctx = ensureContext(ctx)
	def, err := definition(id)
	if err != nil {
		return Row{}, err
	}
	var row Row
	err = retryOnBusy(ctx, func() error {
		if ierr := insertSentinel(ctx, s.db, def, team); ierr != nil {
			return ierr
		}
		var rerr error
		row, rerr = readRow(ctx, s.db, def, team)
		return rerr
	})
	if err != nil {
		return Row{}, fmt.Errorf("read %s best for %s: %w", id, team, err)
	}
	return row, nil
}

// UpsertIfBetter stores values for team when the candidate's primary value is
// strictly better than the stored one. Columns missing from values are stored
// at their sentinel. It reports whether the row was written.
func (s *Store) UpsertIfBetter(ctx context.Context, id track.ID, team string, values map[string]float64) (bool, error) {
	ctx = ensureContext(ctx)
	def, err := definition(id)
	if err != nil {
		return false, err
	}
	candidate, ok := values[def.Primary]
	if !ok {
		return false, fmt.Errorf("upsert %s for %s: missing primary column %q", id, team, def.Primary)
	}

	var written bool
	err = retryOnBusy(ctx, func() error {
		written = false
		tx, terr := s.db.BeginTx(ctx, nil)
		if terr != nil {
			return terr
		}
		defer func() { _ = tx.Rollback() }()

		if terr = insertSentinel(ctx, tx, def, team); terr != nil {
			return terr
		}
		current, terr := readRow(ctx, tx, def, team)
		if terr != nil {
			return terr
		}
		if !def.Direction.Better(candidate, current.Primary(def)) {
			return tx.Commit()
		}
		if terr = writeRow(ctx, tx, def, team, values, s.now()); terr != nil {
			return terr
		}
		if terr = tx.Commit(); terr != nil {
			return terr
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s for %s: %w", id, team, err)
	}
	return written, nil
}

// Teams returns the number of rows on a track, sentinel rows included.
func (s *Store) Teams(ctx context.Context, id track.ID) (int, error) {
	ctx = ensureContext(ctx)
	def, err := definition(id)
	if err != nil {
		return 0, err
	}
	var count int
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM "+def.Table).Scan(&count)
	})
	return count, err
}

func insertSentinel(ctx context.Context, db execer, def track.Definition, team string) error {
	columns := def.ColumnNames()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)+1), ", ")
	args := make([]any, 0, len(columns)+1)
	args = append(args, team)
	sentinels := def.Sentinels()
	for _, name := range columns {
		args = append(args, sentinels[name])
	}
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (team, %s) VALUES (%s)",
		def.Table, strings.Join(columns, ", "), placeholders)
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func writeRow(ctx context.Context, db execer, def track.Definition, team string, values map[string]float64, now time.Time) error {
	columns := def.ColumnNames()
	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	sentinels := def.Sentinels()
	for _, name := range columns {
		v, ok := values[name]
		if !ok || math.IsNaN(v) {
			v = sentinels[name]
		}
		sets = append(sets, name+" = ?")
		args = append(args, v)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, now.UTC().Format(time.RFC3339Nano), team)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE team = ?", def.Table, strings.Join(sets, ", "))
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func readRow(ctx context.Context, db queryer, def track.Definition, team string) (Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE team = ?", selectColumns(def), def.Table)
	row, err := scanRow(db.QueryRowContext(ctx, query, team), def)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, fmt.Errorf("row for %s vanished", team)
	}
	return row, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(src scanner, def track.Definition) (Row, error) {
	columns := def.ColumnNames()
	values := make([]sql.NullFloat64, len(columns))
	var (
		team    string
		updated sql.NullString
	)
	dest := make([]any, 0, len(columns)+2)
	dest = append(dest, &team)
	for i := range values {
		dest = append(dest, &values[i])
	}
	dest = append(dest, &updated)
	if err := src.Scan(dest...); err != nil {
		return Row{}, err
	}

	row := Row{Team: team, Values: make(map[string]float64, len(columns))}
	sentinels := def.Sentinels()
	for i, name := range columns {
		if values[i].Valid {
			row.Values[name] = values[i].Float64
		} else {
			row.Values[name] = sentinels[name]
		}
	}
	if updated.Valid && updated.String != "" {
		if ts, err := time.Parse(time.RFC3339Nano, updated.String); err == nil {
			row.UpdatedAt = ts
		}
	}
	return row, nil
}
