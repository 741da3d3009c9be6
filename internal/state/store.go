package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CorruptionError means the state file exists but cannot be trusted. It is
// never recovered automatically.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

type Paths struct {
	State     string `yaml:"state" default:"data/portfolio_state.json" validate:"required"`
	Trades    string `yaml:"trades" default:"data/trades.ndjson" validate:"required"`
	Decisions string `yaml:"decisions" default:"data/decisions.ndjson" validate:"required"`
	Lock      string `yaml:"lock" default:"data/run.lock" validate:"required"`
}

type Store struct {
	statePath      string
	initialCapital decimal.Decimal
	trades         *Journal
	decisions      *Journal
	mu             sync.Mutex

	// beforeRename runs after the temp file is durable and before it
	// replaces the canonical file.
	beforeRename func(tmpPath string) error
}

func NewStore(paths Paths, initialCapital decimal.Decimal) *Store {
	return &Store{
		statePath:      paths.State,
		initialCapital: initialCapital,
		trades:         NewJournal(paths.Trades),
		decisions:      NewJournal(paths.Decisions),
	}
}

// Load returns the persisted state, or a fresh portfolio when no state file
// exists yet.
func (s *Store) Load() (PortfolioState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", s.statePath).Str("initial_capital", s.initialCapital.String()).Msg("no state file, starting fresh portfolio")
		return NewPortfolio(s.initialCapital), nil
	}
	if err != nil {
		return PortfolioState{}, fmt.Errorf("read state: %w", err)
	}

	var st PortfolioState
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&st); err != nil {
		return PortfolioState{}, &CorruptionError{Path: s.statePath, Err: err}
	}
	if err := st.Validate(); err != nil {
		return PortfolioState{}, &CorruptionError{Path: s.statePath, Err: err}
	}
	return st, nil
}

// Save atomically replaces the state file: temp file, fsync, rename, fsync dir.
func (s *Store) Save(st PortfolioState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.statePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.statePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp state: %w", err)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tmpPath); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, s.statePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace state: %w", err)
	}
	if err := syncDir(dir); err != nil {
		return fmt.Errorf("sync state dir: %w", err)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() {
		_ = d.Close()
	}()
	return d.Sync()
}

// AppendTrade appends rec unless a record with the same order key and
// outcome is already journaled. A FAILED attempt and its later recovered
// execution are both kept.
func (s *Store) AppendTrade(rec TradeRecord) error {
	if rec.OrderKey != "" {
		exists, err := s.hasTrade(rec.OrderKey, rec.Outcome)
		if err != nil {
			return err
		}
		if exists {
			log.Info().Str("order_key", rec.OrderKey).Str("outcome", string(rec.Outcome)).Msg("trade already journaled")
			return nil
		}
	}
	return s.trades.Append(rec)
}

func (s *Store) AppendDecision(entry any) error {
	return s.decisions.Append(entry)
}

func (s *Store) Trades() ([]TradeRecord, error) {
	var out []TradeRecord
	err := s.trades.Each(func(line []byte) error {
		var rec TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decode trade: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// hasTrade matches any outcome when outcome is empty.
func (s *Store) hasTrade(orderKey string, outcome Outcome) (bool, error) {
	trades, err := s.Trades()
	if err != nil {
		return false, err
	}
	for _, t := range trades {
		if t.OrderKey == orderKey && (outcome == "" || t.Outcome == outcome) {
			return true, nil
		}
	}
	return false, nil
}

// Decisions returns the raw decision log lines, oldest first.
func (s *Store) Decisions() ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := s.decisions.Each(func(line []byte) error {
		out = append(out, append(json.RawMessage(nil), line...))
		return nil
	})
	return out, err
}
