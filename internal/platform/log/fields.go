package log

// Canonical field name constants for structured logging.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldDuration  = "duration"
	FieldCode      = "code"
	FieldTraceID   = "trace_id"

	// Cart fields
	FieldCartID    = "cart_id"
	FieldProductID = "product_id"
	FieldCommand   = "command"
	FieldSeq       = "seq"

	// Projection fields
	FieldTag      = "tag"
	FieldOrdinal  = "ordinal"
	FieldAttempts = "attempts"

	// Cluster fields
	FieldNode = "node"
	FieldPeer = "peer"
	FieldAddr = "addr"
)
