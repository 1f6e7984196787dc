package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PostTransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "post_transactions_total",
		Help: "Транзакции создания постов по исходу",
	}, []string{"outcome"})

	BatchOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batch_operations_total",
		Help: "Операции пакетной записи по виду и исходу",
	}, []string{"op", "outcome"})

	RollupRebuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rollup_rebuild_seconds",
		Help:    "Время пересборки отчётов по каналам",
		Buckets: prometheus.DefBuckets,
	}, []string{"scope"})

	RollupRebuildTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_rebuild_total",
		Help: "Количество пересборок отчётов",
	}, []string{"scope", "status"})

	ReportCacheReads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_cache_reads_total",
		Help: "Чтения кэша отчётов: hit, miss, stale",
	}, []string{"result"})

	ReportCacheExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_cache_expired_total",
		Help: "Удалённые по сроку записи кэша отчётов",
	})

	InvalidatorState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "invalidator_state",
		Help: "Состояние инвалидатора: 0 idle, 1 watching, 2 invalidating, 3 reconnecting",
	})

	ChangeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_events_total",
		Help: "События журнала изменений posts по типу",
	}, []string{"operation"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PostTransactionsTotal,
		BatchOperationsTotal,
		RollupRebuildSeconds,
		RollupRebuildTotal,
		ReportCacheReads,
		ReportCacheExpired,
		InvalidatorState,
		ChangeEventsTotal,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveRebuild записывает длительность и статус пересборки отчётов.
func ObserveRebuild(scope string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RollupRebuildSeconds.WithLabelValues(scope).Observe(time.Since(start).Seconds())
	RollupRebuildTotal.WithLabelValues(scope, status).Inc()
}

// IncPostTransaction увеличивает счётчик транзакций с указанным исходом.
func IncPostTransaction(outcome string) {
	PostTransactionsTotal.WithLabelValues(outcome).Inc()
}

// AddBatchOperations учитывает операции пакета одного вида и исхода.
func AddBatchOperations(op, outcome string, n int) {
	if n <= 0 {
		return
	}
	BatchOperationsTotal.WithLabelValues(op, outcome).Add(float64(n))
}

// IncReportRead учитывает чтение кэша отчётов.
func IncReportRead(result string) {
	ReportCacheReads.WithLabelValues(result).Inc()
}

// AddReportsExpired учитывает удалённые по сроку записи.
func AddReportsExpired(n int64) {
	if n > 0 {
		ReportCacheExpired.Add(float64(n))
	}
}

// SetInvalidatorState публикует числовой код состояния инвалидатора.
func SetInvalidatorState(code int) {
	InvalidatorState.Set(float64(code))
}

// IncChangeEvent учитывает событие журнала изменений.
func IncChangeEvent(operation string) {
	ChangeEventsTotal.WithLabelValues(operation).Inc()
}
