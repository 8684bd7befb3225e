package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Metrics holds all application metrics
type Metrics struct {
	mu sync.RWMutex

	// Webhook metrics
	webhooksReceivedTotal map[string]int64 // endpoint -> count
	WebhookErrorsTotal    int64

	// Call orchestration metrics
	SegmentsStartedTotal  int64
	SegmentsAnsweredTotal int64
	SegmentsEndedTotal    int64
	DialsPlacedTotal      int64
	AttemptFailuresTotal  int64
	TransfersTotal        int64
	TransferErrorsTotal   int64

	// WebSocket metrics
	WebSocketConnectionsTotal    int64
	WebSocketDisconnectionsTotal int64
	WebSocketMessagesTotal       int64
	activeConnections            int64

	// HTTP metrics
	httpRequestsTotal    map[string]map[int]int64 // endpoint -> status -> count
	httpRequestDurations map[string][]float64     // endpoint -> durations

	// Timing
	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			webhooksReceivedTotal: make(map[string]int64),
			httpRequestsTotal:     make(map[string]map[int]int64),
			httpRequestDurations:  make(map[string][]float64),
			startTime:             time.Now(),
		}
	})
	return instance
}

// RecordWebhook counts a received provider callback by endpoint
func (m *Metrics) RecordWebhook(endpoint string) {
	m.mu.Lock()
	m.webhooksReceivedTotal[endpoint]++
	m.mu.Unlock()
}

// RecordWebhookError increments the webhook error counter
func (m *Metrics) RecordWebhookError() {
	m.mu.Lock()
	m.WebhookErrorsTotal++
	m.mu.Unlock()
}

// RecordSegmentStarted increments the started-segments counter
func (m *Metrics) RecordSegmentStarted() {
	m.mu.Lock()
	m.SegmentsStartedTotal++
	m.mu.Unlock()
}

// RecordSegmentAnswered increments the answered-segments counter
func (m *Metrics) RecordSegmentAnswered() {
	m.mu.Lock()
	m.SegmentsAnsweredTotal++
	m.mu.Unlock()
}

// RecordSegmentEnded increments the ended-segments counter
func (m *Metrics) RecordSegmentEnded() {
	m.mu.Lock()
	m.SegmentsEndedTotal++
	m.mu.Unlock()
}

// RecordDialPlaced counts one outbound agent leg
func (m *Metrics) RecordDialPlaced() {
	m.mu.Lock()
	m.DialsPlacedTotal++
	m.mu.Unlock()
}

// RecordAttemptFailure counts a dial attempt that rang out
func (m *Metrics) RecordAttemptFailure() {
	m.mu.Lock()
	m.AttemptFailuresTotal++
	m.mu.Unlock()
}

// RecordTransfer counts a completed transfer
func (m *Metrics) RecordTransfer() {
	m.mu.Lock()
	m.TransfersTotal++
	m.mu.Unlock()
}

// RecordTransferError counts a failed transfer
func (m *Metrics) RecordTransferError() {
	m.mu.Lock()
	m.TransferErrorsTotal++
	m.mu.Unlock()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.mu.Lock()
	m.WebSocketConnectionsTotal++
	m.activeConnections++
	m.mu.Unlock()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.mu.Lock()
	m.WebSocketDisconnectionsTotal++
	m.activeConnections--
	m.mu.Unlock()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.mu.Lock()
	m.WebSocketMessagesTotal++
	m.mu.Unlock()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.httpRequestsTotal[endpoint] == nil {
		m.httpRequestsTotal[endpoint] = make(map[int]int64)
	}
	m.httpRequestsTotal[endpoint][statusCode]++

	// Keep last 100 durations for percentile calculation
	if len(m.httpRequestDurations[endpoint]) >= 100 {
		m.httpRequestDurations[endpoint] = m.httpRequestDurations[endpoint][1:]
	}
	m.httpRequestDurations[endpoint] = append(m.httpRequestDurations[endpoint], duration.Seconds())
}

// GetActiveConnections returns current WebSocket connections
func (m *Metrics) GetActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeConnections
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.mu.RLock()
		defer m.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// Helper to write metric
		write := func(name string, value interface{}, labels ...string) {
			labelStr := ""
			if len(labels) > 0 {
				labelStr = "{"
				for i := 0; i < len(labels); i += 2 {
					if i > 0 {
						labelStr += ","
					}
					labelStr += labels[i] + "=\"" + labels[i+1] + "\""
				}
				labelStr += "}"
			}

			switch v := value.(type) {
			case int:
				w.Write([]byte(name + labelStr + " " + strconv.Itoa(v) + "\n"))
			case int64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatInt(v, 10) + "\n"))
			case float64:
				w.Write([]byte(name + labelStr + " " + strconv.FormatFloat(v, 'f', 6, 64) + "\n"))
			}
		}

		// System metrics
		write("trunkline_uptime_seconds", time.Since(m.startTime).Seconds())

		// Webhook metrics
		for endpoint, count := range m.webhooksReceivedTotal {
			write("trunkline_webhooks_received_total", count, "endpoint", endpoint)
		}
		write("trunkline_webhook_errors_total", m.WebhookErrorsTotal)

		// Call orchestration metrics
		write("trunkline_segments_started_total", m.SegmentsStartedTotal)
		write("trunkline_segments_answered_total", m.SegmentsAnsweredTotal)
		write("trunkline_segments_ended_total", m.SegmentsEndedTotal)
		write("trunkline_dials_placed_total", m.DialsPlacedTotal)
		write("trunkline_attempt_failures_total", m.AttemptFailuresTotal)
		write("trunkline_transfers_total", m.TransfersTotal)
		write("trunkline_transfer_errors_total", m.TransferErrorsTotal)

		// WebSocket metrics
		write("trunkline_websocket_connections_total", m.WebSocketConnectionsTotal)
		write("trunkline_websocket_disconnections_total", m.WebSocketDisconnectionsTotal)
		write("trunkline_websocket_active_connections", m.activeConnections)
		write("trunkline_websocket_messages_total", m.WebSocketMessagesTotal)

		// HTTP metrics
		for endpoint, statusCodes := range m.httpRequestsTotal {
			for status, count := range statusCodes {
				write("trunkline_http_requests_total", count, "endpoint", endpoint, "status", strconv.Itoa(status))
			}
		}
	}
}
