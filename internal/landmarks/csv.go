package landmarks

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/articulate/internal/monitoring"
)

// LoadStats summarises a reference table load.
type LoadStats struct {
	Rows          int // data rows read, excluding the header
	SkippedRows   int // malformed rows
	Frames        int // frames in the resulting animation
	DroppedFrames int // frames with missing or duplicate points, or an uncommon cardinality
}

// CSVLoader reads reference animations from CSV files with a header naming
// Frame, X and Y columns and an optional Landmark (point index) column.
type CSVLoader struct {
	// LastStats holds the statistics of the most recent Load.
	LastStats LoadStats
}

// Load implements Loader. source is a file path.
func (l *CSVLoader) Load(ctx context.Context, source string) (*ReferenceAnimation, error) {
	f, err := os.Open(filepath.Clean(source))
	if err != nil {
		return nil, fmt.Errorf("failed to open reference table: %w", err)
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	anim, stats, err := ReadCSV(ctx, f, name)
	l.LastStats = stats
	return anim, err
}

type csvColumns struct {
	frame, point, x, y int
}

func findColumns(header []string) (csvColumns, error) {
	cols := csvColumns{frame: -1, point: -1, x: -1, y: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "frame", "frame_index":
			cols.frame = i
		case "landmark", "point", "point_index", "index":
			cols.point = i
		case "x":
			cols.x = i
		case "y":
			cols.y = i
		}
	}
	if cols.frame < 0 || cols.x < 0 || cols.y < 0 {
		return cols, fmt.Errorf("header %v must name Frame, X and Y columns", header)
	}
	return cols, nil
}

type csvPoint struct {
	index int
	p     Point
}

// ReadCSV parses a per-frame, per-point landmark table. Malformed rows are
// skipped and counted. With a Landmark column each point lands at its own
// index, and frames with missing or duplicate indices are dropped. The
// cardinality is the most common point count among the remaining frames;
// frames of any other size are dropped too. The load only fails when no
// usable frame remains.
func ReadCSV(ctx context.Context, r io.Reader, name string) (*ReferenceAnimation, LoadStats, error) {
	var stats LoadStats
	log := monitoring.Component("reference")

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, ErrEmptyAnimation
		}
		return nil, stats, fmt.Errorf("failed to read header: %w", err)
	}
	cols, err := findColumns(header)
	if err != nil {
		return nil, stats, err
	}

	byFrame := make(map[int][]csvPoint)
	for {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		stats.Rows++
		if err == nil {
			var frame int
			var pt csvPoint
			if frame, pt, err = parseRow(record, cols); err == nil {
				byFrame[frame] = append(byFrame[frame], pt)
				continue
			}
		}
		stats.SkippedRows++
		log.Warn().Err(err).Str("animation", name).Int("row", stats.Rows).Msg("skipping malformed row")
	}

	frameIDs := make([]int, 0, len(byFrame))
	for id := range byFrame {
		frameIDs = append(frameIDs, id)
	}
	sort.Ints(frameIDs)

	type frameSet struct {
		id  int
		set LandmarkSet
	}
	complete := make([]frameSet, 0, len(frameIDs))
	counts := make(map[int]int)
	for _, id := range frameIDs {
		set, err := assembleFrame(byFrame[id], cols.point >= 0)
		if err != nil {
			stats.DroppedFrames++
			log.Warn().Err(err).Str("animation", name).Int("frame", id).Msg("dropping incomplete frame")
			continue
		}
		complete = append(complete, frameSet{id: id, set: set})
		counts[len(set)]++
	}

	// Most common size wins; ties go to the larger size.
	want := 0
	for n, c := range counts {
		if c > counts[want] || (c == counts[want] && n > want) {
			want = n
		}
	}

	frames := make([]LandmarkSet, 0, len(complete))
	for _, f := range complete {
		if len(f.set) != want {
			stats.DroppedFrames++
			log.Warn().Str("animation", name).Int("frame", f.id).
				Int("points", len(f.set)).Int("want", want).
				Msg("dropping frame with unexpected cardinality")
			continue
		}
		frames = append(frames, f.set)
	}
	stats.Frames = len(frames)

	anim, err := NewReferenceAnimation(name, frames)
	if err != nil {
		return nil, stats, err
	}
	return anim, stats, nil
}

// assembleFrame orders one frame's points. Indexed points must cover
// 0..n-1 exactly once; otherwise rows keep their file order.
func assembleFrame(pts []csvPoint, indexed bool) (LandmarkSet, error) {
	set := make(LandmarkSet, len(pts))
	if !indexed {
		for i, p := range pts {
			set[i] = p.p
		}
		return set, nil
	}
	seen := make([]bool, len(pts))
	for _, p := range pts {
		if p.index < 0 || p.index >= len(pts) {
			return nil, fmt.Errorf("landmark %d leaves a gap in %d points", p.index, len(pts))
		}
		if seen[p.index] {
			return nil, fmt.Errorf("duplicate landmark %d", p.index)
		}
		seen[p.index] = true
		set[p.index] = p.p
	}
	return set, nil
}

func parseRow(record []string, cols csvColumns) (int, csvPoint, error) {
	field := func(i int) (string, error) {
		if i >= len(record) {
			return "", fmt.Errorf("row has %d fields, need column %d", len(record), i)
		}
		return strings.TrimSpace(record[i]), nil
	}

	var pt csvPoint
	s, err := field(cols.frame)
	if err != nil {
		return 0, pt, err
	}
	frame, err := strconv.Atoi(s)
	if err != nil {
		return 0, pt, fmt.Errorf("invalid frame %q: %w", s, err)
	}
	if cols.point >= 0 {
		s, err := field(cols.point)
		if err != nil {
			return 0, pt, err
		}
		if pt.index, err = strconv.Atoi(s); err != nil {
			return 0, pt, fmt.Errorf("invalid landmark index %q: %w", s, err)
		}
	}
	if s, err = field(cols.x); err != nil {
		return 0, pt, err
	}
	if pt.p.X, err = strconv.ParseFloat(s, 64); err != nil {
		return 0, pt, fmt.Errorf("invalid x %q: %w", s, err)
	}
	if s, err = field(cols.y); err != nil {
		return 0, pt, err
	}
	if pt.p.Y, err = strconv.ParseFloat(s, 64); err != nil {
		return 0, pt, fmt.Errorf("invalid y %q: %w", s, err)
	}
	if !pt.p.IsFinite() {
		return 0, pt, fmt.Errorf("non-finite point (%s, %s)", record[cols.x], record[cols.y])
	}
	return frame, pt, nil
}
