package log

import "time"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldGranularity   = "granularity"
	FieldMode          = "mode"
	FieldBucketKey     = "bucket_key"
	FieldBuckets       = "buckets"
	FieldInvoiceID     = "invoice_id"
	FieldInvoiceCount  = "invoice_count"
	FieldCustomer      = "customer"
	FieldRevenue       = "revenue"
	FieldRef           = "ref"
	FieldBackend       = "backend"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentDashboard = "dashboard"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentBackend   = "backend"
	ComponentReport    = "report"
)

// Operations defines standard operation names
const (
	OpCreate      = "create"
	OpList        = "list"
	OpSearch      = "search"
	OpFetch       = "fetch"
	OpSelect      = "select"
	OpBack        = "back"
	OpGranularity = "change_granularity"
	OpRefresh     = "refresh"
	OpIngest      = "ingest"
	OpShutdown    = "shutdown"
	OpStartup     = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError adds the error text; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithNavigation adds the dashboard view: granularity, mode and, when
// set, the selected bucket.
func (f LogFields) WithNavigation(granularity, mode string, key time.Time) LogFields {
	f[FieldGranularity] = granularity
	f[FieldMode] = mode
	if !key.IsZero() {
		f[FieldBucketKey] = key.Format(time.DateOnly)
	}
	return f
}

func (f LogFields) WithInvoice(id int64, customer, revenue string) LogFields {
	f[FieldInvoiceID] = id
	f[FieldCustomer] = customer
	f[FieldRevenue] = revenue
	return f
}

func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = statusCode < 400
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
