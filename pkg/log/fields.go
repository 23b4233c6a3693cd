package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"

	// Actor
	FieldUserID = "user_id"

	// Service
	FieldService = "service"

	// Subscription
	FieldSubscriptionID = "subscription_id"
	FieldStream         = "stream"
	FieldState          = "state"
	FieldEventName      = "event_name"
	FieldRoomID         = "room_id"
	FieldAttempt        = "attempt"
)
