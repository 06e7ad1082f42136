package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultGatewayTimeout  = 30 * time.Second
	GatewayBatchEndpoint   = "/emails/batch"
	GatewayDomainsEndpoint = "/domains"
)

const (
	CacheKeyPrefixEnrollmentIdem = "enroll_idem:"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	// SchedulerBatchLimit caps how many due enrollments a single run picks up.
	SchedulerBatchLimit = 1000

	DefaultSchedulerInterval = 60 * time.Second
	DefaultSweepInterval     = 5 * time.Minute
	DefaultSweepBatchSize    = 100
)

const (
	// Non-test sends happen only inside this daily UTC window.
	DefaultSendWindowStartHour = 9
	DefaultSendWindowEndHour   = 17
)

const (
	// Caller-supplied idempotency keys on enrollment creation are honored
	// for this long.
	EnrollmentIdemKeyTTL = 24 * time.Hour
)

const (
	HeaderEnrollmentID = "X-Enrollment-ID"
	HeaderJourneyID    = "X-Journey-ID"
	HeaderStage        = "X-Stage"
	HeaderProviderKey  = "X-Provider-Key"
	HeaderIdemKey      = "Idempotency-Key"
)

const (
	DefaultFromAddress = "digest@drip.example.com"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)
