package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/veltrix/recast/internal/config"
)

// Short-term context key schema. Every key expires by TTL; the core
// never deletes context explicitly.
const (
	recentItemsKeyFmt      = "user:%s:recent_items"
	recentCategoriesKeyFmt = "user:%s:recent_categories"
	lastActiveKeyFmt       = "user:%s:last_active"
)

// ContextStore adapts Redis to the short-term context the re-ranker
// and the event fast-path share: a bounded recent-item list, category
// counters, and a last-active marker per user.
//
// Reads are best-effort: on any Redis failure they return empty
// values and the rules that depend on them degrade to no-ops.
type ContextStore struct {
	redis  *redis.Client
	cfg    config.ContextConfig
	logger *logrus.Logger
}

func NewContextStore(redisClient *redis.Client, cfg config.ContextConfig, logger *logrus.Logger) *ContextStore {
	return &ContextStore{
		redis:  redisClient,
		cfg:    cfg,
		logger: logger,
	}
}

// NormalizeCategory folds a catalog category label into the form used
// for context counter fields, so that cosmetic variants of the same
// label aggregate into one counter.
func NormalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(category)))
}

// TouchRecent publishes one interaction into the user's short-term
// context: the item goes to the head of recent_items (trimmed to the
// configured bound), the category counter is incremented when known,
// and last_active is refreshed. All keys get the context TTL.
func (s *ContextStore) TouchRecent(ctx context.Context, userID, itemID, category string) error {
	pipe := s.redis.TxPipeline()

	itemsKey := fmt.Sprintf(recentItemsKeyFmt, userID)
	pipe.LPush(ctx, itemsKey, itemID)
	pipe.LTrim(ctx, itemsKey, 0, int64(s.cfg.RecentItemsLimit-1))
	pipe.Expire(ctx, itemsKey, s.cfg.TTL)

	if category != "" {
		categoriesKey := fmt.Sprintf(recentCategoriesKeyFmt, userID)
		pipe.HIncrBy(ctx, categoriesKey, NormalizeCategory(category), 1)
		pipe.Expire(ctx, categoriesKey, s.cfg.TTL)
	}

	lastActiveKey := fmt.Sprintf(lastActiveKeyFmt, userID)
	pipe.Set(ctx, lastActiveKey, strconv.FormatInt(time.Now().Unix(), 10), s.cfg.TTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("context write for user %s: %w", userID, err)
	}
	return nil
}

// RecentItems returns the user's recent item ids, newest first, at
// most the configured bound. Failures read as empty.
func (s *ContextStore) RecentItems(ctx context.Context, userID string) []string {
	key := fmt.Sprintf(recentItemsKeyFmt, userID)
	items, err := s.redis.LRange(ctx, key, 0, int64(s.cfg.RecentItemsLimit-1)).Result()
	if err != nil && err != redis.Nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Recent items read failed")
		recordDegradation("context_read")
		return nil
	}
	return items
}

// RecentCategories returns the user's category counters keyed by
// normalized category. Failures read as empty.
func (s *ContextStore) RecentCategories(ctx context.Context, userID string) map[string]int {
	key := fmt.Sprintf(recentCategoriesKeyFmt, userID)
	fields, err := s.redis.HGetAll(ctx, key).Result()
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Recent categories read failed")
		recordDegradation("context_read")
		return nil
	}

	counters := make(map[string]int, len(fields))
	for category, raw := range fields {
		count, err := strconv.Atoi(raw)
		if err != nil || count <= 0 {
			continue
		}
		counters[category] = count
	}
	return counters
}
