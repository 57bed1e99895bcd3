package vectorindex

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/veltrix/recast/internal/config"
)

// Match is one k-nearest result mapped back to its catalog item.
type Match struct {
	ItemID string
	Score  float64
}

// Client speaks the vector index's REST protocol. The index stores one
// L2-normalized embedding per item under an integer point id derived
// from the item id; the original id travels in the point payload.
//
// All read operations degrade to empty results on failure: the recall
// pipeline treats an unreachable index as "no content candidates", so
// errors are logged here and never returned to callers.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	logger     *logrus.Logger
}

func New(cfg config.VectorIndexConfig, logger *logrus.Logger) *Client {
	return &Client{
		baseURL:    cfg.URL,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// PointID maps an item id to the index's 63-bit nonnegative point id:
// the first 16 hex characters of MD5(itemID), mod 2^63.
func PointID(itemID string) uint64 {
	sum := md5.Sum([]byte(itemID))
	return binary.BigEndian.Uint64(sum[:8]) & (1<<63 - 1)
}

// Normalize scales vec to unit L2 norm in place and returns it. Zero
// vectors are returned unchanged.
func Normalize(vec []float64) []float64 {
	norm := floats.Norm(vec, 2)
	if norm == 0 {
		return vec
	}
	floats.Scale(1/norm, vec)
	return vec
}

type pointsRequest struct {
	IDs         []uint64 `json:"ids"`
	WithVector  bool     `json:"with_vector"`
	WithPayload bool     `json:"with_payload"`
}

type pointRecord struct {
	ID      uint64                 `json:"id"`
	Vector  []float64              `json:"vector,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type searchRequest struct {
	Vector      []float64     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *searchFilter `json:"filter,omitempty"`
}

type searchFilter struct {
	MustNot []filterClause `json:"must_not,omitempty"`
}

type filterClause struct {
	HasID []uint64 `json:"has_id,omitempty"`
}

type searchHit struct {
	ID      uint64                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type resultEnvelope struct {
	Result json.RawMessage `json:"result"`
	Status interface{}     `json:"status"`
}

// GetVector fetches the stored unit vector for an item. The second
// return is false when the item is not indexed or the index is
// unreachable.
func (c *Client) GetVector(ctx context.Context, itemID string) ([]float64, bool) {
	reqBody := pointsRequest{IDs: []uint64{PointID(itemID)}, WithVector: true}

	var result []pointRecord
	url := fmt.Sprintf("%s/collections/%s/points", c.baseURL, c.collection)
	if err := c.post(ctx, url, reqBody, &result); err != nil {
		c.logger.WithError(err).WithField("item_id", itemID).Warn("Vector fetch failed")
		return nil, false
	}
	if len(result) == 0 || len(result[0].Vector) == 0 {
		return nil, false
	}
	return result[0].Vector, true
}

// GetVectors fetches stored vectors for a batch of items in one call,
// keyed back by the payload item id. Items that are not indexed are
// simply missing from the result.
func (c *Client) GetVectors(ctx context.Context, itemIDs []string) map[string][]float64 {
	if len(itemIDs) == 0 {
		return nil
	}

	ids := make([]uint64, len(itemIDs))
	for i, itemID := range itemIDs {
		ids[i] = PointID(itemID)
	}
	reqBody := pointsRequest{IDs: ids, WithVector: true, WithPayload: true}

	var result []pointRecord
	url := fmt.Sprintf("%s/collections/%s/points", c.baseURL, c.collection)
	if err := c.post(ctx, url, reqBody, &result); err != nil {
		c.logger.WithError(err).WithField("count", len(itemIDs)).Warn("Batch vector fetch failed")
		return nil
	}

	vectors := make(map[string][]float64, len(result))
	for _, record := range result {
		itemID, ok := record.Payload["item_id"].(string)
		if !ok || itemID == "" || len(record.Vector) == 0 {
			continue
		}
		vectors[itemID] = record.Vector
	}
	return vectors
}

// KNearest returns up to k items closest to vec by cosine similarity,
// best first. The caller must pass an L2-normalized query vector.
// Excluded items are filtered on the index side by point id and
// re-checked here against the payload item id.
func (c *Client) KNearest(ctx context.Context, vec []float64, k int, exclude []string) []Match {
	if k <= 0 || len(vec) == 0 {
		return nil
	}

	reqBody := searchRequest{Vector: vec, Limit: k, WithPayload: true}
	excluded := make(map[string]bool, len(exclude))
	if len(exclude) > 0 {
		ids := make([]uint64, 0, len(exclude))
		for _, itemID := range exclude {
			excluded[itemID] = true
			ids = append(ids, PointID(itemID))
		}
		reqBody.Filter = &searchFilter{MustNot: []filterClause{{HasID: ids}}}
	}

	var hits []searchHit
	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	if err := c.post(ctx, url, reqBody, &hits); err != nil {
		c.logger.WithError(err).Warn("Vector search failed")
		return nil
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		itemID, ok := hit.Payload["item_id"].(string)
		if !ok || itemID == "" || excluded[itemID] {
			continue
		}
		matches = append(matches, Match{ItemID: itemID, Score: hit.Score})
	}
	return matches
}

// Ping verifies the collection is reachable. Used by health checks
// only; pipeline reads rely on the degrade-to-empty behavior instead.
func (c *Client) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vector index unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector index returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}

	var envelope resultEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
