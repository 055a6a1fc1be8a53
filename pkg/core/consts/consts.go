package consts

const (
	// TraceKey 上下文与 fiber Locals 中保存追踪ID的键
	TraceKey = "traceId"
	// TraceHeaderName 内部调用透传父追踪上下文的请求头
	TraceHeaderName = "X-Trace-Context"
	// CorrelationHeader 外部调用方透传关联ID的请求头
	CorrelationHeader = "X-Correlation-Id"
)
