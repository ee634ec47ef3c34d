package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики конвейера событий
// ============================================================

const namespace = "escrowflow"

// ============ Нормализация и публикация ============

// NormalizerRecords - записи лога по результату нормализации
var NormalizerRecords = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "normalizer",
		Name:      "records_total",
		Help:      "Raw log records by normalization result",
	},
	[]string{"result"}, // published, dropped, failed
)

// PublishRetries - повторные попытки публикации в шину
var PublishRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "publish_retries_total",
		Help:      "Publish retries by topic",
	},
	[]string{"topic"},
)

// PublishLatency - время до подтверждения доставки брокером
var PublishLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "publish_latency_ms",
		Help:      "Time until the broker acknowledged a publish, in milliseconds",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	},
	[]string{"topic"},
)

// ============ Потребители ============

// ConsumerMessages - обработанные сообщения по результату
var ConsumerMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Consumed messages by consumer and result",
	},
	[]string{"consumer", "result"}, // applied, skipped, failed
)

// ConsumerApplyLatency - время применения сообщения (с retry)
var ConsumerApplyLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "apply_latency_ms",
		Help:      "Time to apply one message including retries, in milliseconds",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 1000, 5000},
	},
	[]string{"consumer"},
)

// ConsumerWorkers - активные воркеры партиций
var ConsumerWorkers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "partition_workers",
		Help:      "Partition workers currently owned by the consumer",
	},
	[]string{"consumer"},
)

// ============ Проекция ============

// ProjectorOutcomes - исходы применения событий к снимкам
var ProjectorOutcomes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projector",
		Name:      "outcomes_total",
		Help:      "Snapshot apply outcomes",
	},
	[]string{"outcome"},
)

// ProjectorOrphans - завершающие события без снимка после всех попыток
var ProjectorOrphans = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projector",
		Name:      "orphans_total",
		Help:      "Terminal events whose snapshot never appeared",
	},
)

// ProjectorDuplicates - события, уже присутствовавшие в журнале
var ProjectorDuplicates = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projector",
		Name:      "duplicate_events_total",
		Help:      "Events already present in the event log",
	},
)

// ReplayEvents - события, воспроизведённые при перестроении
var ReplayEvents = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projector",
		Name:      "replay_events_total",
		Help:      "Events replayed into derived views",
	},
)

// AuditDrift - расхождения снимков с журналом при последней сверке
var AuditDrift = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "projector",
		Name:      "audit_drift",
		Help:      "Snapshots differing from the event log replay at the last audit",
	},
)

// ============ Риски ============

// AlertsEmitted - опубликованные алерты по правилам
var AlertsEmitted = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "alerts_emitted_total",
		Help:      "Alerts published by rule",
	},
	[]string{"rule"},
)

// RuleFailures - ошибки и паники правил
var RuleFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "risk",
		Name:      "rule_failures_total",
		Help:      "Rule evaluations that failed or panicked",
	},
	[]string{"rule"},
)

// ============ Уведомления ============

// Notifications - уведомления по типу и результату
var Notifications = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifier",
		Name:      "notifications_total",
		Help:      "Notifications by kind and result",
	},
	[]string{"kind", "result"}, // sent, duplicate
)

// WSClients - подключённые websocket-клиенты
var WSClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "notifier",
		Name:      "ws_clients",
		Help:      "Connected websocket clients",
	},
)

// ============ HTTP API ============

// HTTPRequestDuration - длительность запросов API
var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "request_duration_ms",
		Help:      "HTTP request duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 1000},
	},
	[]string{"method", "status"},
)

// ============================================================
// Хелперы
// ============================================================

func RecordNormalized(result string) {
	NormalizerRecords.WithLabelValues(result).Inc()
}

func RecordPublish(topic string, latencyMs float64) {
	PublishLatency.WithLabelValues(topic).Observe(latencyMs)
}

func RecordPublishRetry(topic string) {
	PublishRetries.WithLabelValues(topic).Inc()
}

func RecordConsumed(consumer, result string, latencyMs float64) {
	ConsumerMessages.WithLabelValues(consumer, result).Inc()
	ConsumerApplyLatency.WithLabelValues(consumer).Observe(latencyMs)
}

func UpdateWorkers(consumer string, n int) {
	ConsumerWorkers.WithLabelValues(consumer).Set(float64(n))
}

func RecordOutcome(outcome string) {
	ProjectorOutcomes.WithLabelValues(outcome).Inc()
}

func RecordAlert(rule string) {
	AlertsEmitted.WithLabelValues(rule).Inc()
}

func RecordRuleFailure(rule string) {
	RuleFailures.WithLabelValues(rule).Inc()
}

func RecordNotification(kind, result string) {
	Notifications.WithLabelValues(kind, result).Inc()
}
