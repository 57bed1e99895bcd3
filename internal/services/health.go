package services

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// checkTimeout bounds one dependency probe.
const checkTimeout = 5 * time.Second

// PostgresPinger is the probe surface of the catalog pool.
type PostgresPinger interface {
	Ping(ctx context.Context) error
}

// RedisPinger is the probe surface of the context store client.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// VectorPinger is the probe surface of the vector index client.
type VectorPinger interface {
	Ping(ctx context.Context) error
}

type HealthStatus struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Services    map[string]string `json:"services"`
	Critical    []string          `json:"critical_failures,omitempty"`
	NonCritical []string          `json:"non_critical_failures,omitempty"`
}

// HealthService probes the serving dependencies. Postgres and Redis
// are critical: without the catalog join and the context store no
// request can be answered. The vector index only silences the content
// branch, so its failure degrades the service instead of taking it
// down.
type HealthService struct {
	logger  *logrus.Logger
	pg      PostgresPinger
	redis   RedisPinger
	vectors VectorPinger

	checkStatus *prometheus.GaugeVec
	lastCheck   *prometheus.GaugeVec
}

func NewHealthService(logger *logrus.Logger, pg PostgresPinger, redisClient RedisPinger, vectors VectorPinger) *HealthService {
	hs := &HealthService{
		logger:  logger,
		pg:      pg,
		redis:   redisClient,
		vectors: vectors,
	}

	hs.checkStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_status",
		Help: "Health check status (1 = healthy, 0 = unhealthy)",
	}, []string{"service"})

	hs.lastCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "health_check_timestamp",
		Help: "Timestamp of last health check",
	}, []string{"service"})

	// Register with error handling - ignore if already registered
	if err := prometheus.Register(hs.checkStatus); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			logger.WithError(err).Warn("Failed to register health_check_status metric")
		}
	}
	if err := prometheus.Register(hs.lastCheck); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			logger.WithError(err).Warn("Failed to register health_check_timestamp metric")
		}
	}

	return hs
}

// CheckHealth probes every dependency and folds the results into one
// overall status: unhealthy when a critical dependency fails, degraded
// when only non-critical ones do, healthy otherwise.
func (s *HealthService) CheckHealth() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]string),
	}

	critical := []dependencyCheck{
		{"postgresql", s.checkPostgres},
		{"redis", s.checkRedis},
	}
	nonCritical := []dependencyCheck{
		{"vector_index", s.checkVectorIndex},
	}

	allCriticalHealthy := true
	for _, c := range critical {
		if err := s.probe(c.check); err != nil {
			status.Services[c.name] = "unhealthy"
			status.Critical = append(status.Critical, c.name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical service %s is unhealthy", c.name)
			s.updateMetrics(c.name, false)
		} else {
			status.Services[c.name] = "healthy"
			s.updateMetrics(c.name, true)
		}
	}

	for _, c := range nonCritical {
		if err := s.probe(c.check); err != nil {
			status.Services[c.name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, c.name)
			s.logger.WithError(err).Warnf("Non-critical service %s is unhealthy", c.name)
			s.updateMetrics(c.name, false)
		} else {
			status.Services[c.name] = "healthy"
			s.updateMetrics(c.name, true)
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

type dependencyCheck struct {
	name  string
	check func(context.Context) error
}

func (s *HealthService) probe(check func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	return check(ctx)
}

func (s *HealthService) checkPostgres(ctx context.Context) error {
	return s.pg.Ping(ctx)
}

func (s *HealthService) checkRedis(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *HealthService) checkVectorIndex(ctx context.Context) error {
	return s.vectors.Ping(ctx)
}

func (s *HealthService) updateMetrics(serviceName string, healthy bool) {
	if healthy {
		s.checkStatus.WithLabelValues(serviceName).Set(1)
	} else {
		s.checkStatus.WithLabelValues(serviceName).Set(0)
	}
	s.lastCheck.WithLabelValues(serviceName).Set(float64(time.Now().Unix()))
}
