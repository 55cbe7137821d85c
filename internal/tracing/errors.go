package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType span 上的 error.type 取值，按出错的外部依赖分类
type ErrorType string

const (
	ErrorTypeHTTP          ErrorType = "http"
	ErrorTypeRabbitMQ      ErrorType = "rabbitmq"
	ErrorTypeVectorDB      ErrorType = "vector_db"
	ErrorTypeObjectStorage ErrorType = "object_storage"
	ErrorTypeLLM           ErrorType = "llm"
	ErrorTypeEmbedding     ErrorType = "embedding"
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeInternal      ErrorType = "internal"
)

// RecordError 在 span 上记录错误并标记为失败，span 或 err 为 nil 时忽略
func RecordError(span trace.Span, err error, errorType ErrorType) {
	RecordErrorWithInfo(span, err, errorType)
}

// RecordErrorWithInfo 同 RecordError，并附加额外属性
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	attrs := append([]attribute.KeyValue{
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), maxErrorMessageLength)),
	}, attributes...)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 记录下游 HTTP 服务返回的错误状态
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	RecordErrorWithInfo(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", HTTPErrorCategory(statusCode)))
}

// HTTPErrorCategory 4xx 为 client_error，5xx 为 server_error
func HTTPErrorCategory(statusCode int) string {
	switch {
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "unknown"
	}
}
