package constants

// ProcessingStatus is the parse status stored on receipts.processing_status.
type ProcessingStatus string

// Stable values (store these exact strings in DB).
const (
	StatusOK   ProcessingStatus = "ok"
	StatusWarn ProcessingStatus = "warn"
	StatusFail ProcessingStatus = "fail"
)

// Outcome is the terminal state of one file in a run.
type Outcome string

const (
	OutcomeProcessedOK   Outcome = "PROCESSED_OK"
	OutcomeProcessedWarn Outcome = "PROCESSED_WARN"
	OutcomeFailed        Outcome = "FAILED"
)

// Succeeded reports whether the outcome routes to processed/.
func (o Outcome) Succeeded() bool {
	return o == OutcomeProcessedOK || o == OutcomeProcessedWarn
}

// AppStatus is written to apps.status after a store pass.
type AppStatus string

const (
	AppStatusOK   AppStatus = "ok"
	AppStatusWarn AppStatus = "warn" // degraded: warnings only
	AppStatusFail AppStatus = "fail" // degraded: at least one failure
)

// ErrorKind classifies why a file ended FAILED.
type ErrorKind string

const (
	ErrorKindRead    ErrorKind = "read"
	ErrorKindParse   ErrorKind = "parse"
	ErrorKindSchema  ErrorKind = "schema"
	ErrorKindPersist ErrorKind = "persist"
	ErrorKindRoute   ErrorKind = "route"
	ErrorKindAudit   ErrorKind = "audit"
)

// Disposition records where a file physically ended up after a run.
type Disposition string

const (
	DispositionProcessed Disposition = "processed"
	DispositionFailed    Disposition = "failed"
	DispositionInbox     Disposition = "inbox"
)

// SchemaVersion is the version of the canonical receipt document.
const SchemaVersion = 3

// DefaultCurrency is used when a parser does not report one.
const DefaultCurrency = "RON"
