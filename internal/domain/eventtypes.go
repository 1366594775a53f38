package domain

// Event type constants for the envelopes the core's handlers publish and
// consume. Each matches the required "{namespace...}.{name}.v{n}" shape
// checked by ValidEventType.
const (
	EventDocumentIndexRequested = "omniintelligence.document_index_requested.v1"
	EventDocumentIndexCompleted = "omniintelligence.document_index_completed.v1"
	EventDocumentIndexFailed    = "omniintelligence.document_index_failed.v1"

	EventRepositoryScanRequested = "omniintelligence.repository_scan_requested.v1"
	EventRepositoryScanCompleted = "omniintelligence.repository_scan_completed.v1"
	EventRepositoryScanFailed    = "omniintelligence.repository_scan_failed.v1"

	EventContextItemWritten = "omniintelligence.context_item_written.v1"
	EventDocumentIndexed    = "omniintelligence.document_indexed.v1"
)
