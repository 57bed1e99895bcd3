package artifacts

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/veltrix/recast/internal/config"
)

// LoaderError reports a missing, truncated, or inconsistent artifact.
// Any LoaderError at startup is fatal.
type LoaderError struct {
	Path string
	Err  error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("artifact %s: %v", e.Path, e.Err)
}

func (e *LoaderError) Unwrap() error {
	return e.Err
}

func loaderErr(path string, format string, args ...interface{}) error {
	return &LoaderError{Path: path, Err: fmt.Errorf(format, args...)}
}

// Store holds every offline artifact the online pipeline reads: the
// factor matrices, the id maps, the popularity table, and the trained
// ranker. All fields are immutable after Load and safe for concurrent
// readers without locking. Swapping artifacts requires a restart.
type Store struct {
	users *mat.Dense // |Users| x d
	items *mat.Dense // |Items| x d
	dim   int

	userRow map[string]int
	rowItem map[int]string
	itemRow map[string]int

	pop       map[string]Popularity
	popSorted []PopularityEntry

	ranker *LinearRanker
}

func Load(cfg config.ArtifactsConfig, logger *logrus.Logger) (*Store, error) {
	s := &Store{}

	userRowPath := filepath.Join(cfg.Dir, cfg.UserRow)
	rowItemPath := filepath.Join(cfg.Dir, cfg.RowItem)

	var err error
	if s.userRow, err = readUserRowMap(userRowPath); err != nil {
		return nil, err
	}
	if s.rowItem, s.itemRow, err = readRowItemMap(rowItemPath); err != nil {
		return nil, err
	}

	userFactorsPath := filepath.Join(cfg.Dir, cfg.UserFactors)
	itemFactorsPath := filepath.Join(cfg.Dir, cfg.ItemFactors)

	userDim := 0
	if s.users, userDim, err = readFactorMatrix(userFactorsPath, len(s.userRow)); err != nil {
		return nil, err
	}
	itemDim := 0
	if s.items, itemDim, err = readFactorMatrix(itemFactorsPath, len(s.rowItem)); err != nil {
		return nil, err
	}
	if userDim != itemDim {
		return nil, loaderErr(itemFactorsPath,
			"latent dimension mismatch: user factors d=%d, item factors d=%d", userDim, itemDim)
	}
	s.dim = userDim

	popularityPath := filepath.Join(cfg.Dir, cfg.Popularity)
	if s.pop, s.popSorted, err = readPopularityTable(popularityPath); err != nil {
		return nil, err
	}

	rankerPath := filepath.Join(cfg.Dir, cfg.Ranker)
	if s.ranker, err = ReadRanker(rankerPath); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"users":      len(s.userRow),
		"items":      len(s.rowItem),
		"dimension":  s.dim,
		"popularity": len(s.pop),
		"features":   len(s.ranker.Features),
	}).Info("Artifacts loaded")

	return s, nil
}

// UserVector returns the latent vector for a user, or false when the
// user was not part of the offline training set.
func (s *Store) UserVector(userID string) (mat.Vector, bool) {
	row, ok := s.userRow[userID]
	if !ok {
		return nil, false
	}
	return s.users.RowView(row), true
}

func (s *Store) ItemVectorByRow(row int) mat.Vector {
	return s.items.RowView(row)
}

func (s *Store) RowOfItem(itemID string) (int, bool) {
	row, ok := s.itemRow[itemID]
	return row, ok
}

func (s *Store) ItemOfRow(row int) string {
	return s.rowItem[row]
}

// Popularity returns the precomputed popularity and rating sub-scores
// for an item. Missing entries read as zeros.
func (s *Store) Popularity(itemID string) (popularity, rating float64, ok bool) {
	p, ok := s.pop[itemID]
	if !ok {
		return 0, 0, false
	}
	return p.PopularityScore, p.RatingScore, true
}

// PopularityRanking returns all popularity entries sorted by
// popularity_score descending. The slice is shared and must not be
// mutated by callers.
func (s *Store) PopularityRanking() []PopularityEntry {
	return s.popSorted
}

func (s *Store) Ranker() *LinearRanker {
	return s.ranker
}

func (s *Store) Dim() int {
	return s.dim
}

func (s *Store) UserCount() int {
	return len(s.userRow)
}

func (s *Store) ItemCount() int {
	return len(s.rowItem)
}

// ItemFactors exposes the full item matrix V for the latent recall
// scan. Read-only.
func (s *Store) ItemFactors() *mat.Dense {
	return s.items
}

func readUserRowMap(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoaderError{Path: path, Err: err}
	}

	var userRow map[string]int
	if err := json.Unmarshal(data, &userRow); err != nil {
		return nil, loaderErr(path, "decode: %w", err)
	}
	if len(userRow) == 0 {
		return nil, loaderErr(path, "empty id map")
	}

	seen := make(map[int]string, len(userRow))
	for id, row := range userRow {
		if row < 0 || row >= len(userRow) {
			return nil, loaderErr(path, "row %d for %q out of range [0,%d)", row, id, len(userRow))
		}
		if prev, dup := seen[row]; dup {
			return nil, loaderErr(path, "row %d mapped by both %q and %q", row, prev, id)
		}
		seen[row] = id
	}
	return userRow, nil
}

func readRowItemMap(path string) (map[int]string, map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &LoaderError{Path: path, Err: err}
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, loaderErr(path, "decode: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil, loaderErr(path, "empty id map")
	}

	rowItem := make(map[int]string, len(raw))
	itemRow := make(map[string]int, len(raw))
	for key, itemID := range raw {
		row, err := strconv.Atoi(key)
		if err != nil {
			return nil, nil, loaderErr(path, "row key %q is not an integer", key)
		}
		if row < 0 || row >= len(raw) {
			return nil, nil, loaderErr(path, "row %d out of range [0,%d)", row, len(raw))
		}
		if prev, dup := itemRow[itemID]; dup {
			return nil, nil, loaderErr(path, "item %q mapped by rows %d and %d", itemID, prev, row)
		}
		rowItem[row] = itemID
		itemRow[itemID] = row
	}
	return rowItem, itemRow, nil
}

// readFactorMatrix reads a row-major little-endian float32 matrix. The
// row count comes from the id map; the latent dimension is derived
// from the file size and validated.
func readFactorMatrix(path string, rows int) (*mat.Dense, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, &LoaderError{Path: path, Err: err}
	}
	if len(data)%4 != 0 {
		return nil, 0, loaderErr(path, "size %d is not a multiple of 4", len(data))
	}

	total := len(data) / 4
	if rows <= 0 {
		return nil, 0, loaderErr(path, "no rows mapped")
	}
	if total == 0 || total%rows != 0 {
		return nil, 0, loaderErr(path, "%d floats do not divide into %d rows", total, rows)
	}
	dim := total / rows
	if dim < 1 {
		return nil, 0, loaderErr(path, "latent dimension %d < 1", dim)
	}

	values := make([]float64, total)
	for i := 0; i < total; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		f := math.Float32frombits(bits)
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, 0, loaderErr(path, "non-finite value at offset %d", i)
		}
		values[i] = float64(f)
	}

	return mat.NewDense(rows, dim, values), dim, nil
}
