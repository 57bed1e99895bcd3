package services

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/recast/internal/artifacts"
	"github.com/veltrix/recast/internal/config"
)

// Pipeline fixture: two users and six items in a two-dimensional
// factor space, chosen so alice's latent ranking is I1 > I2 > I4 >
// I6 > I5 > I3 and the popularity ranking is I5 > I6 > I1 > I3 >
// I2 > I4.
type popularityFixtureRow struct {
	ItemID           string   `parquet:"item_id"`
	PopularityScore  float64  `parquet:"popularity_score"`
	RatingScore      float64  `parquet:"rating_score"`
	InteractionCount *int64   `parquet:"interaction_count,optional"`
	MeanRating       *float64 `parquet:"mean_rating,optional"`
}

func writePipelineFactors(t *testing.T, path string, rows [][]float32) {
	t.Helper()
	buf := new(bytes.Buffer)
	for _, row := range rows {
		for _, v := range row {
			require.NoError(t, binary.Write(buf, binary.LittleEndian, v))
		}
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func writePipelineRanker(t *testing.T, path string, weights []float64, intercept float64) {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, binary.Write(buf, binary.LittleEndian, uint32(len(artifacts.FeatureOrder))))
	for _, name := range artifacts.FeatureOrder {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, uint16(len(name))))
		buf.WriteString(name)
	}
	for _, w := range weights {
		require.NoError(t, binary.Write(buf, binary.LittleEndian, w))
	}
	require.NoError(t, binary.Write(buf, binary.LittleEndian, intercept))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func loadPipelineStore(t *testing.T) *artifacts.Store {
	t.Helper()
	dir := t.TempDir()

	writePipelineFactors(t, filepath.Join(dir, "user_factors.bin"), [][]float32{
		{1, 0}, // alice
		{0, 1}, // bob
	})
	writePipelineFactors(t, filepath.Join(dir, "item_factors.bin"), [][]float32{
		{0.9, 0.1}, // I1
		{0.8, 0.6}, // I2
		{0.1, 0.9}, // I3
		{0.7, 0.2}, // I4
		{0.2, 0.8}, // I5
		{0.5, 0.5}, // I6
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user_row.json"),
		[]byte(`{"alice": 0, "bob": 1}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "row_item.json"),
		[]byte(`{"0": "I1", "1": "I2", "2": "I3", "3": "I4", "4": "I5", "5": "I6"}`), 0o644))

	require.NoError(t, parquet.WriteFile(filepath.Join(dir, "popularity.parquet"), []popularityFixtureRow{
		{ItemID: "I1", PopularityScore: 0.85, RatingScore: 0.80},
		{ItemID: "I2", PopularityScore: 0.70, RatingScore: 0.70},
		{ItemID: "I3", PopularityScore: 0.80, RatingScore: 0.75},
		{ItemID: "I4", PopularityScore: 0.60, RatingScore: 0.65},
		{ItemID: "I5", PopularityScore: 0.95, RatingScore: 0.90},
		{ItemID: "I6", PopularityScore: 0.90, RatingScore: 0.85},
	}))

	writePipelineRanker(t, filepath.Join(dir, "ranker.bin"), []float64{0.5, 0.3, 0.2, 0.4}, -0.1)

	store, err := artifacts.Load(config.ArtifactsConfig{
		Dir:         dir,
		UserFactors: "user_factors.bin",
		ItemFactors: "item_factors.bin",
		UserRow:     "user_row.json",
		RowItem:     "row_item.json",
		Popularity:  "popularity.parquet",
		Ranker:      "ranker.bin",
	}, testLogger())
	require.NoError(t, err)
	return store
}
