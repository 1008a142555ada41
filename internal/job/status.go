package job

// Job lifecycle states. A job leaves Dispatched only via an explicit
// acknowledge/reject from a worker or a broker-enforced TTL expiry
// (treated as a reject).
const (
	StatusCreated      = "CREATED"
	StatusQueued       = "QUEUED"
	StatusDispatched   = "DISPATCHED"
	StatusSucceeded    = "SUCCEEDED"
	StatusRequeued     = "REQUEUED"
	StatusDeadLettered = "DEAD_LETTERED"
)
