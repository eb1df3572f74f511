package poet

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"weave/internal/object"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Feedback is what the Train phase learns from.
type Feedback struct {
	ID       uuid.UUID
	Function string
	Presets  []string
	Input    any
	Output   any
	Attempts int
	Elapsed  time.Duration
	Phases   []PhaseTiming
	At       time.Time
}

func newFeedback(meta *Meta, args []object.Object, kwargs map[string]object.Object, out object.Object) Feedback {
	in := map[string]any{"args": object.ToGo(&object.List{Elements: args})}
	if len(kwargs) > 0 {
		kw := make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			kw[k] = object.ToGo(v)
		}
		in["kwargs"] = kw
	}
	return Feedback{
		ID:       uuid.New(),
		Function: meta.Function,
		Presets:  meta.Presets,
		Input:    in,
		Output:   object.ToGo(out),
		Attempts: meta.Attempts,
		Elapsed:  meta.Elapsed(),
		Phases:   meta.Phases,
		At:       time.Now().UTC(),
	}
}

// Trainer consumes feedback from successful decorated calls.
type Trainer interface {
	Train(ctx context.Context, fb Feedback) error
}

// Trainers fans feedback out to each trainer and joins their errors.
type Trainers []Trainer

func (ts Trainers) Train(ctx context.Context, fb Feedback) error {
	var errs []error
	for _, t := range ts {
		if err := t.Train(ctx, fb); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats is what the learner knows about one function.
type Stats struct {
	Calls       int
	Retried     int
	MeanLatency time.Duration
	MeanTries   float64
}

// SuggestedTimeout leaves headroom over the observed operate latency.
func (s Stats) SuggestedTimeout() time.Duration {
	return 3 * s.MeanLatency
}

const emaAlpha = 0.2

// Learner keeps exponential moving averages of operate latency and attempts.
type Learner struct {
	mu    sync.Mutex
	stats map[string]*Stats
}

func NewLearner() *Learner {
	return &Learner{stats: make(map[string]*Stats)}
}

func (l *Learner) Train(_ context.Context, fb Feedback) error {
	var operate time.Duration
	for _, p := range fb.Phases {
		if p.Phase == PhaseOperate {
			operate = p.Elapsed
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[fb.Function]
	if !ok {
		s = &Stats{MeanLatency: operate, MeanTries: float64(fb.Attempts)}
		l.stats[fb.Function] = s
	} else {
		s.MeanLatency = time.Duration(emaAlpha*float64(operate) + (1-emaAlpha)*float64(s.MeanLatency))
		s.MeanTries = emaAlpha*float64(fb.Attempts) + (1-emaAlpha)*s.MeanTries
	}
	s.Calls++
	if fb.Attempts > 1 {
		s.Retried++
	}
	return nil
}

func (l *Learner) Stats(function string) (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.stats[function]
	if !ok {
		return Stats{}, false
	}
	return *s, true
}

// Store persists feedback in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the feedback database at path and migrates it.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("feedback store path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback store: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping feedback store: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Train(ctx context.Context, fb Feedback) error {
	input, err := json.Marshal(fb.Input)
	if err != nil {
		return fmt.Errorf("failed to encode input: %w", err)
	}
	output, err := json.Marshal(fb.Output)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	phases, err := json.Marshal(fb.Phases)
	if err != nil {
		return fmt.Errorf("failed to encode phases: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, function, presets, input, output, attempts, elapsed_ms, phases, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID.String(), fb.Function, strings.Join(fb.Presets, ","), string(input), string(output),
		fb.Attempts, fb.Elapsed.Milliseconds(), string(phases), fb.At.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// Recent returns up to limit feedback rows for function, newest first.
func (s *Store) Recent(ctx context.Context, function string, limit int) ([]Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, function, presets, input, output, attempts, elapsed_ms, phases, created_at
		 FROM feedback WHERE function = ? ORDER BY created_at DESC, id LIMIT ?`, function, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var (
			fb        Feedback
			id        string
			presets   string
			input     string
			output    string
			phases    string
			elapsedMS int64
			createdAt int64
		)
		if err := rows.Scan(&id, &fb.Function, &presets, &input, &output, &fb.Attempts, &elapsedMS, &phases, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		if fb.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad feedback id %q: %w", id, err)
		}
		if presets != "" {
			fb.Presets = strings.Split(presets, ",")
		}
		fb.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		fb.At = time.Unix(0, createdAt).UTC()
		if err := json.Unmarshal([]byte(input), &fb.Input); err != nil {
			return nil, fmt.Errorf("failed to decode input: %w", err)
		}
		if err := json.Unmarshal([]byte(output), &fb.Output); err != nil {
			return nil, fmt.Errorf("failed to decode output: %w", err)
		}
		if err := json.Unmarshal([]byte(phases), &fb.Phases); err != nil {
			return nil, fmt.Errorf("failed to decode phases: %w", err)
		}
		out = append(out, fb)
	}
	return out, rows.Err()
}
