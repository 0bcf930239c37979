package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

const stateExt = ".json"

// FileStore keeps one JSON record per position in a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns the record file of key: <strategy>__<asset>.json.
func (s *FileStore) Path(key domain.PositionKey) string {
	return filepath.Join(s.dir, safeName(key.StrategyID)+"__"+safeName(key.Asset)+stateExt)
}

func (s *FileStore) Load(ctx context.Context, key domain.PositionKey) (*domain.PositionState, error) {
	path := s.Path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrStateNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	state, err := DecodeState(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if state.StrategyID != key.StrategyID || state.Asset != key.Asset {
		return nil, fmt.Errorf("%w: %s holds %s, expected %s", domain.ErrInvalidState, path, state.Key(), key)
	}
	return state, nil
}

func (s *FileStore) Save(ctx context.Context, state *domain.PositionState) error {
	state.SchemaVersion = domain.SchemaVersion
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return writeFileAtomic(s.Path(state.Key()), append(data, '\n'), 0o644)
}

// List returns the keys of every record in the directory. Files whose
// identity cannot be read are reported in the joined error and skipped.
func (s *FileStore) List(ctx context.Context) ([]domain.PositionKey, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+stateExt))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var keys []domain.PositionKey
	var errs []error
	for _, p := range paths {
		key, err := KeyFromFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if s.Path(key) != p {
			errs = append(errs, fmt.Errorf("%s: file name does not match record identity %s", p, key))
			continue
		}
		keys = append(keys, key)
	}
	return keys, errors.Join(errs...)
}

// KeyFromFile reads the position identity of a record file without decoding
// the whole record. Legacy field names are accepted.
func KeyFromFile(path string) (domain.PositionKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.PositionKey{}, err
	}
	if !gjson.ValidBytes(raw) {
		return domain.PositionKey{}, fmt.Errorf("%w: %s is not valid JSON", domain.ErrInvalidState, path)
	}
	res := gjson.GetManyBytes(raw, "strategy_id", "strategyId", "asset", "coin")
	key := domain.PositionKey{StrategyID: res[0].String(), Asset: res[2].String()}
	if key.StrategyID == "" {
		key.StrategyID = res[1].String()
	}
	if key.Asset == "" {
		key.Asset = res[3].String()
	}
	if key.StrategyID == "" || key.Asset == "" {
		return domain.PositionKey{}, fmt.Errorf("%w: %s has no strategy/asset identity", domain.ErrInvalidState, path)
	}
	return key, nil
}

// DecodeState migrates, schema-checks and validates a raw record.
func DecodeState(raw []byte) (*domain.PositionState, error) {
	migrated, _, err := Migrate(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateSchema(migrated); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(migrated))
	dec.DisallowUnknownFields()
	var state domain.PositionState
	if err := dec.Decode(&state); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrInvalidState, err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
