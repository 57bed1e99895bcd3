package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/pkg/models"
)

// CatalogQuerier is the subset of pgxpool.Pool the catalog repository
// needs, narrowed so tests can substitute a mock pool.
type CatalogQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CatalogRepository reads product metadata and the durable interaction
// log from the relational store. The pipeline owns neither table; this
// is the only component that touches them.
type CatalogRepository struct {
	db     CatalogQuerier
	logger *logrus.Logger
}

func NewCatalogRepository(db CatalogQuerier, logger *logrus.Logger) *CatalogRepository {
	return &CatalogRepository{db: db, logger: logger}
}

// Products fetches the catalog records for the final response join,
// preserving the order of itemIDs. Items missing from the catalog are
// omitted. The read runs in a transaction that is rolled back on any
// failure before the connection returns to the pool.
func (r *CatalogRepository) Products(ctx context.Context, itemIDs []string) ([]models.Product, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin catalog read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		SELECT item_id, family_id, title, category, brand, avg_rating, rating_count, image_url
		FROM products
		WHERE item_id = ANY($1)`

	rows, err := tx.Query(ctx, query, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}

	byID, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit catalog read: %w", err)
	}

	products := make([]models.Product, 0, len(byID))
	for _, itemID := range itemIDs {
		if product, ok := byID[itemID]; ok {
			products = append(products, product)
		}
	}
	return products, nil
}

func scanProducts(rows pgx.Rows) (map[string]models.Product, error) {
	defer rows.Close()

	byID := make(map[string]models.Product)
	for rows.Next() {
		var p models.Product
		var familyID, brand, imageURL *string
		var avgRating *float64

		err := rows.Scan(&p.ItemID, &familyID, &p.Title, &p.Category, &brand, &avgRating, &p.RatingCount, &imageURL)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}

		if familyID != nil {
			p.FamilyID = *familyID
		}
		if brand != nil {
			p.Brand = *brand
		}
		if imageURL != nil {
			p.ImageURL = *imageURL
		}
		if avgRating != nil {
			p.AvgRating = *avgRating
		}
		byID[p.ItemID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read products: %w", err)
	}
	return byID, nil
}

// Signals fetches the raw signal bundle for a candidate set in one
// round trip. Missing items simply have no entry.
func (r *CatalogRepository) Signals(ctx context.Context, itemIDs []string) (map[string]*models.RawSignals, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT item_id, family_id, category, avg_rating, rating_count
		FROM products
		WHERE item_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	signals := make(map[string]*models.RawSignals)
	for rows.Next() {
		var itemID string
		var familyID, category *string
		var avgRating *float64
		var ratingCount int

		if err := rows.Scan(&itemID, &familyID, &category, &avgRating, &ratingCount); err != nil {
			return nil, fmt.Errorf("scan signals: %w", err)
		}

		s := &models.RawSignals{RatingCount: ratingCount}
		if familyID != nil {
			s.FamilyID = *familyID
		}
		if category != nil {
			s.Category = *category
		}
		if avgRating != nil {
			s.AvgRating = *avgRating
		}
		signals[itemID] = s
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read signals: %w", err)
	}
	return signals, nil
}

// ItemFacts returns the category and brand for one item. An unknown
// item reads as absent, not as an error.
func (r *CatalogRepository) ItemFacts(ctx context.Context, itemID string) (category, brand string, err error) {
	query := `SELECT category, brand FROM products WHERE item_id = $1`

	var cat, br *string
	err = r.db.QueryRow(ctx, query, itemID).Scan(&cat, &br)
	if err == pgx.ErrNoRows {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("item facts for %s: %w", itemID, err)
	}

	if cat != nil {
		category = *cat
	}
	if br != nil {
		brand = *br
	}
	return category, brand, nil
}

// UserHistory returns the user's most recently interacted item ids for
// the given event kinds, newest first, deduplicated.
func (r *CatalogRepository) UserHistory(ctx context.Context, userID string, kinds []string, limit int) ([]string, error) {
	query := `
		SELECT item_id
		FROM (
			SELECT item_id, MAX(ts) AS last_ts
			FROM user_events
			WHERE user_id = $1 AND event_type = ANY($2)
			GROUP BY item_id
		) recent
		ORDER BY last_ts DESC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, userID, kinds, limit)
	if err != nil {
		return nil, fmt.Errorf("query user history: %w", err)
	}
	defer rows.Close()

	var itemIDs []string
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return nil, fmt.Errorf("scan user history: %w", err)
		}
		itemIDs = append(itemIDs, itemID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read user history: %w", err)
	}
	return itemIDs, nil
}

// TopRatedInCategory is the product-detail fallback: items sharing the
// anchor's category ordered by mean rating weighted by review volume.
func (r *CatalogRepository) TopRatedInCategory(ctx context.Context, category, excludeItem string, limit int) ([]models.Candidate, error) {
	query := `
		SELECT item_id, family_id, category, avg_rating, rating_count,
		       avg_rating * LN(rating_count + 1) AS rank_score
		FROM products
		WHERE category = $1 AND item_id <> $2 AND avg_rating IS NOT NULL AND rating_count > 0
		ORDER BY rank_score DESC, item_id
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, category, excludeItem, limit)
	if err != nil {
		return nil, fmt.Errorf("query top rated in %s: %w", category, err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var familyID *string
		signals := &models.RawSignals{}

		err := rows.Scan(&c.ItemID, &familyID, &signals.Category, &signals.AvgRating, &signals.RatingCount, &c.RecallScore)
		if err != nil {
			return nil, fmt.Errorf("scan top rated: %w", err)
		}
		if familyID != nil {
			signals.FamilyID = *familyID
		}
		c.Source = models.SourceCategory
		c.Signals = signals
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read top rated: %w", err)
	}
	return candidates, nil
}

// AppendInteraction writes one enriched event to the durable
// interaction log.
func (r *CatalogRepository) AppendInteraction(ctx context.Context, event *models.EnrichedEvent) error {
	metadataJSON, _ := json.Marshal(event.Metadata)

	query := `
		INSERT INTO user_events (id, user_id, item_id, event_type, value, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		event.ID,
		event.UserID,
		event.ItemID,
		event.Type,
		event.Value,
		event.Timestamp,
		metadataJSON,
	)
	return err
}
