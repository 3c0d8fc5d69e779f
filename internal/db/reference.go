package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/articulate/internal/landmarks"
)

// ErrAnimationNotFound is returned by Load for an unknown animation name.
var ErrAnimationNotFound = errors.New("reference animation not found")

// AnimationInfo summarises one stored animation.
type AnimationInfo struct {
	Name        string    `json:"name"`
	Frames      int       `json:"frames"`
	Cardinality int       `json:"cardinality"`
	Imported    time.Time `json:"imported"`
}

// ImportAnimation stores anim under name in a single transaction,
// replacing any animation already stored under that name.
func (db *DB) ImportAnimation(ctx context.Context, name string, anim *landmarks.ReferenceAnimation) error {
	if name == "" {
		return errors.New("animation name is required")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_points WHERE animation = ?`, name); err != nil {
		return fmt.Errorf("clear points: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_animations WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear animation: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reference_animations (name, frames, cardinality, imported_ns) VALUES (?, ?, ?, ?)`,
		name, anim.Len(), anim.Cardinality(), time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert animation: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO reference_points (animation, frame_index, point_index, x, y) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare points: %w", err)
	}
	defer stmt.Close()

	for f := 0; f < anim.Len(); f++ {
		for i, p := range anim.Frame(f) {
			if _, err := stmt.ExecContext(ctx, name, f, i, p.X, p.Y); err != nil {
				return fmt.Errorf("insert frame %d point %d: %w", f, i, err)
			}
		}
	}
	return tx.Commit()
}

// Load implements landmarks.Loader, reading the animation stored under
// source.
func (db *DB) Load(ctx context.Context, source string) (*landmarks.ReferenceAnimation, error) {
	var cardinality int
	err := db.QueryRowContext(ctx,
		`SELECT cardinality FROM reference_animations WHERE name = ?`, source,
	).Scan(&cardinality)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrAnimationNotFound, source)
	}
	if err != nil {
		return nil, fmt.Errorf("query animation: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT frame_index, point_index, x, y
		FROM reference_points
		WHERE animation = ?
		ORDER BY frame_index, point_index`, source)
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}
	defer rows.Close()

	var frames []landmarks.LandmarkSet
	current := -1
	for rows.Next() {
		var frame, point int
		var p landmarks.Point
		if err := rows.Scan(&frame, &point, &p.X, &p.Y); err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		if frame != current {
			frames = append(frames, make(landmarks.LandmarkSet, 0, cardinality))
			current = frame
		}
		last := len(frames) - 1
		if point != len(frames[last]) {
			return nil, fmt.Errorf("animation %q frame %d: point %d out of sequence", source, frame, point)
		}
		frames[last] = append(frames[last], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return landmarks.NewReferenceAnimation(source, frames)
}

// Animations lists stored animations by name.
func (db *DB) Animations(ctx context.Context) ([]AnimationInfo, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, frames, cardinality, imported_ns FROM reference_animations ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnimationInfo
	for rows.Next() {
		var a AnimationInfo
		var importedNs int64
		if err := rows.Scan(&a.Name, &a.Frames, &a.Cardinality, &importedNs); err != nil {
			return nil, err
		}
		a.Imported = time.Unix(0, importedNs).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}
