package relay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pixelrelay"

// Metrics are the relay's Prometheus instruments.
type Metrics struct {
	clients     *prometheus.GaugeVec
	framesIn    prometheus.Counter
	framesOut   *prometheus.CounterVec
	polls       prometheus.Counter
	warnings    *prometheus.CounterVec
	disconnects *prometheus.CounterVec
}

// NewMetrics registers the relay metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		clients: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "clients",
			Help:      "Connected clients by role.",
		}, []string{"role"}),

		framesIn: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "painter_frames_total",
			Help:      "Pixel buffers accepted from painters.",
		}),

		framesOut: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "canvas_frames_total",
			Help:      "Frames sent to canvases by topology.",
		}, []string{"topology"}),

		polls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "painter_polls_total",
			Help:      "Pull requests sent to painters.",
		}),

		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "client_warnings_total",
			Help:      "Warnings sent to misbehaving clients by kind.",
		}, []string{"kind"}),

		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "disconnects_total",
			Help:      "Client disconnects by reason.",
		}, []string{"reason"}),
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The methods below tolerate a nil receiver so a hub can run without metrics.

func (m *Metrics) clientJoined(role string) {
	if m != nil {
		m.clients.WithLabelValues(role).Inc()
	}
}

func (m *Metrics) clientLeft(role string) {
	if m != nil {
		m.clients.WithLabelValues(role).Dec()
	}
}

func (m *Metrics) painterFrame() {
	if m != nil {
		m.framesIn.Inc()
	}
}

func (m *Metrics) canvasFrame(topology string) {
	if m != nil {
		m.framesOut.WithLabelValues(topology).Inc()
	}
}

func (m *Metrics) poll() {
	if m != nil {
		m.polls.Inc()
	}
}

func (m *Metrics) warning(kind string) {
	if m != nil {
		m.warnings.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) disconnect(reason string) {
	if m != nil {
		m.disconnects.WithLabelValues(reason).Inc()
	}
}
