package log

// Field names shared by every component.
const (
	FieldComponent    = "component"
	FieldRequestID    = "request_id"
	FieldClientIP     = "client_ip"
	FieldMethod       = "method"
	FieldPath         = "path"
	FieldQuery        = "query"
	FieldStatusCode   = "status_code"
	FieldDuration     = "duration_ms"
	FieldUserAgent    = "user_agent"
	FieldSuccess      = "success"
	FieldError        = "error"
	FieldErrorType    = "error_type"
	FieldOperation    = "operation"
	FieldRestaurantID = "restaurant_id"
	FieldReport       = "report"
	FieldYear         = "year"
	FieldMonth        = "month"
	FieldTopN         = "n"
	FieldOrderRef     = "order_ref"
	FieldAmount       = "amount"
	FieldPaymentMode  = "payment_mode"
	FieldLines        = "lines"
	FieldEventKind    = "event_kind"
	FieldCacheHit     = "cache_hit"
)

const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentReports   = "reports"
	ComponentRecords   = "records"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentSecurity  = "security"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentTemplate  = "template"
)

const (
	OpCreate   = "create"
	OpRead     = "read"
	OpDelete   = "delete"
	OpList     = "list"
	OpReport   = "report"
	OpRecord   = "record"
	OpPublish  = "publish"
	OpConsume  = "consume"
	OpRefresh  = "refresh"
	OpExport   = "export"
	OpValidate = "validate"
	OpRender   = "render"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeTimeout       = "timeout_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields builds a set of structured attributes.
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

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithErrorType(kind string) LogFields {
	f[FieldErrorType] = kind
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithReport tags a report request. Zero year or month are omitted.
func (f LogFields) WithReport(restaurantID int64, report string, year, month int) LogFields {
	f[FieldRestaurantID] = restaurantID
	f[FieldReport] = report
	if year != 0 {
		f[FieldYear] = year
	}
	if month != 0 {
		f[FieldMonth] = month
	}
	return f
}

func (f LogFields) WithOrder(restaurantID int64, ref, total, paymentMode string, lines int) LogFields {
	f[FieldRestaurantID] = restaurantID
	f[FieldOrderRef] = ref
	f[FieldAmount] = total
	f[FieldPaymentMode] = paymentMode
	f[FieldLines] = lines
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

// ToSlice flattens the fields into slog key/value arguments.
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
