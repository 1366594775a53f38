package envelope

import (
	"fmt"
	"os"
	"strings"
)

// DeadLetterTopicSuffix is the final segment of the topic that unresolved
// event types and dead-lettered envelopes are routed to (§4.1, §6); see
// Router.DeadLetterTopic for the full topic.
const DeadLetterTopicSuffix = "dlq.v1"

// Router resolves event_type to a bus topic per §6's
// "{env}.{service}.{aspect}.{operation-kebab}.v{n}" convention, with a
// compile-time table plus optional environment overrides.
type Router struct {
	env     string
	service string
	table   map[string]string
	envVar  func(string) string
}

// NewRouter creates a Router for the given environment/service pair.
func NewRouter(env, service string) *Router {
	return &Router{
		env:     env,
		service: service,
		table:   defaultTopicTable(),
		envVar:  os.Getenv,
	}
}

// defaultTopicTable maps known event_type suffixes (after the last two
// dotted segments "<name>.v<n>") to their {aspect}.{operation-kebab} topic
// fragment.
func defaultTopicTable() map[string]string {
	return map[string]string{
		"document_index_requested":  "intelligence.document-index-requested",
		"document_index_completed":  "intelligence.document-index-completed",
		"document_index_failed":     "intelligence.document-index-failed",
		"repository_scan_requested":  "intelligence.repository-scan-requested",
		"repository_scan_completed":  "intelligence.repository-scan-completed",
		"repository_scan_failed":     "intelligence.repository-scan-failed",
		"context_item_written":       "intelligence.context-item-written",
		"document_indexed":           "intelligence.document-indexed",
	}
}

// TopicFor resolves event_type to a concrete topic. Unknown types resolve
// to the dead-letter topic. An environment override of the form
// TOPIC_OVERRIDE_<NAME>, where NAME is the upper-cased name segment of the
// event type (e.g. DOCUMENT_INDEX_REQUESTED), takes precedence over the table.
func (r *Router) TopicFor(eventType string) string {
	name, version, ok := splitEventType(eventType)
	if !ok {
		return r.DeadLetterTopic()
	}
	overrideKey := "TOPIC_OVERRIDE_" + strings.ToUpper(name)
	if v := r.envVar(overrideKey); v != "" {
		return v
	}
	frag, ok := r.table[name]
	if !ok {
		return r.DeadLetterTopic()
	}
	return fmt.Sprintf("%s.%s.%s.%s", r.env, r.service, frag, version)
}

// DeadLetterTopic returns this router's dead-letter topic.
func (r *Router) DeadLetterTopic() string {
	return fmt.Sprintf("%s.%s.%s", r.env, r.service, DeadLetterTopicSuffix)
}

// splitEventType extracts the name portion (everything but the leading
// namespace and trailing .v<n>) and the version segment, e.g.
// "omninode.intelligence.event.document_index_completed.v1" ->
// ("document_index_completed", "v1", true).
func splitEventType(eventType string) (name, version string, ok bool) {
	parts := strings.Split(eventType, ".")
	if len(parts) < 2 {
		return "", "", false
	}
	version = parts[len(parts)-1]
	if !strings.HasPrefix(version, "v") {
		return "", "", false
	}
	name = parts[len(parts)-2]
	return name, version, true
}
