package cnst

// Tracer names used across the service
const (
	// TraceCore is the tracer name for the HTTP surface
	TraceCore = "evalcoach/core"
	// TraceAnalyzer is the tracer name for analysis requests
	TraceAnalyzer = "evalcoach/analyzer"
)

// Span names
const (
	SpanAnalyze       = "analysis.analyze"
	SpanStop          = "analysis.stop"
	SpanCacheLookup   = "analysis.cache.lookup"
	SpanSSEConnect    = "analysis.sse.connect"
	SpanEngineSpawn   = "engine.spawn"
	SpanEngineAcquire = "engine.acquire"
)

// Span events
const (
	EventHandshakeRetry = "engine.handshake.retry"
)

// Common attribute keys
const (
	AttrSessionID  = "analysis.session_id"
	AttrStreamID   = "analysis.stream_id"
	AttrPosition   = "analysis.position"
	AttrDepth      = "analysis.depth"
	AttrLineCount  = "analysis.line_count"
	AttrCacheHit   = "analysis.cache_hit"
	AttrWorkerID   = "engine.worker_id"
	AttrClientAddr = "client.remote_addr"
	AttrAttempt    = "engine.attempt"
	AttrError      = "error.message"
)
