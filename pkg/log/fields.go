package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Service
	FieldService = "service"

	// Tracking
	FieldTargetID       = "target_id"
	FieldTargetUsername = "target_username"
	FieldFollowedID     = "followed_id"
	FieldCycleID        = "cycle_id"
	FieldAdded          = "added"
	FieldRemoved        = "removed"
	FieldRemoteCount    = "remote_count"
	FieldSnapshotCount  = "snapshot_count"
	FieldDuration       = "duration_ms"

	// Outbound calls
	FieldEndpoint = "endpoint"
	FieldAttempt  = "attempt"
	FieldCooldown = "cooldown"
	FieldNotifier = "notifier"
)
