package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the service's prometheus instruments.
type Collector struct {
	messagesProcessed *prometheus.CounterVec
	analysisDuration  prometheus.Histogram
	highRiskDetected  prometheus.Counter
	queueRejections   prometheus.Counter
	activeSessions    prometheus.Gauge

	alertsCreated     *prometheus.CounterVec
	escalations       *prometheus.CounterVec
	alertResponseTime prometheus.Histogram
	activeAlerts      prometheus.Gauge

	notifications          *prometheus.CounterVec
	notificationQueueDepth prometheus.Gauge
}

// NewCollector registers the service metrics with the given registerer. Pass
// prometheus.DefaultRegisterer in production.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		messagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safeguardian_messages_processed_total",
			Help: "Total messages analyzed, labeled by resulting risk level",
		}, []string{"risk_level"}),
		analysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeguardian_analysis_duration_seconds",
			Help:    "Time spent scoring a single message",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		highRiskDetected: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeguardian_high_risk_detections_total",
			Help: "Messages scored high or critical",
		}),
		queueRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "safeguardian_queue_rejections_total",
			Help: "Messages rejected because a session queue was full",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safeguardian_active_sessions",
			Help: "Currently monitored sessions",
		}),
		alertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safeguardian_alerts_created_total",
			Help: "Alerts created, labeled by severity",
		}, []string{"severity"}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safeguardian_escalations_total",
			Help: "Alert escalations, labeled by target level",
		}, []string{"level"}),
		alertResponseTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "safeguardian_alert_response_seconds",
			Help:    "Time from alert creation to resolution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		activeAlerts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safeguardian_active_alerts",
			Help: "Alerts not yet in a terminal status",
		}),
		notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "safeguardian_notifications_total",
			Help: "Notification dispatch attempts, labeled by channel and outcome",
		}, []string{"channel", "outcome"}),
		notificationQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "safeguardian_notification_queue_depth",
			Help: "Intents waiting in the notification queue",
		}),
	}
}

func (c *Collector) RecordMessageProcessed(riskLevel string) {
	c.messagesProcessed.WithLabelValues(riskLevel).Inc()
}

func (c *Collector) ObserveAnalysisDuration(seconds float64) {
	c.analysisDuration.Observe(seconds)
}

func (c *Collector) RecordHighRiskDetection() {
	c.highRiskDetected.Inc()
}

func (c *Collector) RecordQueueRejection() {
	c.queueRejections.Inc()
}

func (c *Collector) SetActiveSessions(n float64) {
	c.activeSessions.Set(n)
}

func (c *Collector) RecordAlertCreated(severity string) {
	c.alertsCreated.WithLabelValues(severity).Inc()
}

func (c *Collector) RecordEscalation(level string) {
	c.escalations.WithLabelValues(level).Inc()
}

func (c *Collector) ObserveAlertResponseTime(seconds float64) {
	c.alertResponseTime.Observe(seconds)
}

func (c *Collector) SetActiveAlerts(n float64) {
	c.activeAlerts.Set(n)
}

func (c *Collector) RecordNotification(channel, outcome string) {
	c.notifications.WithLabelValues(channel, outcome).Inc()
}

func (c *Collector) SetNotificationQueueDepth(n float64) {
	c.notificationQueueDepth.Set(n)
}
