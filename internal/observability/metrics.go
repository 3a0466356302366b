package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_voice_active_sessions",
		Help: "Number of connected reader sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_voice_sessions_total",
		Help: "Total number of reader sessions",
	})

	// Synthesis metrics
	synthesisRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_voice_synthesis_requests_total",
		Help: "Total number of speech synthesis requests sent upstream",
	}, []string{"status"})

	synthesisLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reader_voice_synthesis_latency_seconds",
		Help:    "Speech synthesis latency in seconds, including retries",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	// Speech cache metrics
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_voice_speech_cache_lookups_total",
		Help: "Speech cache lookups by result",
	}, []string{"result"}) // result: "hit" or "miss"

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_voice_speech_cache_evictions_total",
		Help: "Speech cache entries evicted by the LRU bound",
	})

	cacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_voice_speech_cache_entries",
		Help: "Number of entries in the speech cache",
	})

	// Resolution metrics
	resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_voice_audio_resolutions_total",
		Help: "Audio source resolutions by tier",
	}, []string{"tier"}) // tier: "url", "filename", "synthesis"

	// Playback metrics
	playbackTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_voice_playback_transitions_total",
		Help: "Playback handle state transitions by target state",
	}, []string{"state"})

	activeHandles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reader_voice_active_playback_handles",
		Help: "Playback handles currently loading, playing or paused",
	})

	staleActivations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reader_voice_stale_activations_total",
		Help: "Activation results discarded because a newer activation superseded them",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reader_voice_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "reader_voice_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})
)

// RecordSessionStart records a new reader session
func RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a reader session
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordSynthesis records an upstream synthesis call
func RecordSynthesis(success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	synthesisRequests.WithLabelValues(status).Inc()
	synthesisLatency.Observe(seconds)
}

// RecordCacheLookup records a speech cache hit or miss
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordCacheEviction records an LRU eviction
func RecordCacheEviction() {
	cacheEvictions.Inc()
}

// SetCacheEntries updates the speech cache size gauge
func SetCacheEntries(n int) {
	cacheEntries.Set(float64(n))
}

// RecordResolution records which resolution tier served a segment
func RecordResolution(tier string) {
	resolutions.WithLabelValues(tier).Inc()
}

// RecordPlaybackTransition records a handle entering state
func RecordPlaybackTransition(state string) {
	playbackTransitions.WithLabelValues(state).Inc()
}

// HandleAcquired records a playback handle becoming active
func HandleAcquired() {
	activeHandles.Inc()
}

// HandleReleased records a playback handle leaving the active states
func HandleReleased() {
	activeHandles.Dec()
}

// RecordStaleActivation records a discarded activation result
func RecordStaleActivation() {
	staleActivations.Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}
