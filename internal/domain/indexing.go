package domain

// IndexingOptions controls chunking and per-stage skip behaviour for a
// DocumentIndexRequest.
type IndexingOptions struct {
	ChunkSize       int  `json:"chunk_size,omitempty"`
	ChunkOverlap    int  `json:"chunk_overlap,omitempty"`
	SkipEntities    bool `json:"skip_entities,omitempty"`
	SkipQuality     bool `json:"skip_quality,omitempty"`
	SkipGraph       bool `json:"skip_graph,omitempty"`
	EmitEvent       bool `json:"emit_event,omitempty"`
}

// DocumentIndexRequest is the command payload that drives the indexer (§3.2).
// Content may be nil for pointer-only requests (the indexer then expects the
// crawler/collaborator to have already staged the bytes out of band).
type DocumentIndexRequest struct {
	SourcePath      string           `json:"source_path"`
	Content         *string          `json:"content,omitempty"`
	Language        string           `json:"language"`
	ProjectID       string           `json:"project_id,omitempty"`
	RepositoryURL   string           `json:"repository_url,omitempty"`
	CommitSHA       string           `json:"commit_sha,omitempty"`
	IndexingOptions IndexingOptions  `json:"indexing_options"`
	UserID          string           `json:"user_id,omitempty"`
}

// ServiceTimings maps a fan-out sub-service name to elapsed milliseconds.
type ServiceTimings map[string]int64

// DocumentIndexCompleted is the success terminal payload for §4.7.
type DocumentIndexCompleted struct {
	DocumentHash        string         `json:"document_hash"`
	EntityIDs           []string       `json:"entity_ids"`
	VectorIDs           []string       `json:"vector_ids"`
	EntitiesExtracted   int            `json:"entities_extracted"`
	RelationshipsCreated int           `json:"relationships_created"`
	ChunksIndexed       int            `json:"chunks_indexed"`
	ProcessingTimeMS    int64          `json:"processing_time_ms"`
	ServiceTimings      ServiceTimings `json:"service_timings"`
	QualityScore        *float64       `json:"quality_score,omitempty"`
	OnexCompliance      *bool          `json:"onex_compliance,omitempty"`
	CacheHit            bool           `json:"cache_hit"`
	FailedService       string         `json:"failed_service,omitempty"`
	PartialResults      bool           `json:"partial_results,omitempty"`
}

// DocumentIndexFailed is the failure terminal payload for §4.7.
type DocumentIndexFailed struct {
	ErrorMessage     string `json:"error_message"`
	ErrorCode        string `json:"error_code"`
	RetryAllowed     bool   `json:"retry_allowed"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	FailedService    string `json:"failed_service,omitempty"`
	PartialResults   bool   `json:"partial_results,omitempty"`
}

// DocumentIndexed is the optional post-write event payload for §4.8, emitted
// when a DocumentIndexRequest's indexing_options.emit_event is set.
type DocumentIndexed struct {
	ItemsCreated int `json:"items_created"`
	ItemsUpdated int `json:"items_updated"`
	ItemsSkipped int `json:"items_skipped"`
	ItemsFailed  int `json:"items_failed"`
	TotalChunks  int `json:"total_chunks"`
}

// RepositoryScanRequested drives the crawler (§4.6).
type RepositoryScanRequested struct {
	RepositoryPath  string   `json:"repository_path"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	FilePatterns    []string `json:"file_patterns,omitempty"`
	BatchSize       int      `json:"batch_size,omitempty"`
	ProjectID       string   `json:"project_id,omitempty"`
}

// FileSummary is one entry of a RepositoryScanCompleted's file_summaries.
type FileSummary struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Bytes    int    `json:"bytes"`
}

// RepositoryScanCompleted is the crawler's success terminal payload.
type RepositoryScanCompleted struct {
	FilesDiscovered int           `json:"files_discovered"`
	FilesPublished  int           `json:"files_published"`
	FilesSkipped    int           `json:"files_skipped"`
	BatchesCreated  int           `json:"batches_created"`
	FileSummaries   []FileSummary `json:"file_summaries"`
}

// RepositoryScanFailed is the crawler's failure terminal payload.
type RepositoryScanFailed struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RetryAllowed bool   `json:"retry_allowed"`
}
