// Package crawler implements the repository crawler of §4.6: walk a
// repository tree once, prune by exclude/include glob patterns, classify
// language by extension, and publish one DOCUMENT_INDEX_REQUESTED envelope
// per surviving file. Envelopes are published one at a time as the files are
// read; batch_size does not group or pace the publishes, it only sets how
// published files are counted into batches_created. Grounded on the
// teacher's engine/ingest.go StartConsumer for the publish shape.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/omninode-ai/omniintelligence-core/internal/bus"
	"github.com/omninode-ai/omniintelligence-core/internal/domain"
	"github.com/omninode-ai/omniintelligence-core/internal/envelope"
	"github.com/omninode-ai/omniintelligence-core/internal/handler"
)

// DefaultBatchSize is the number of DOCUMENT_INDEX_REQUESTED envelopes
// published per batch when the request omits batch_size (§4.6).
const DefaultBatchSize = 50

// languageByExtension classifies a file's language from its extension. An
// unmatched extension yields "unknown" rather than being skipped — skip
// policy is driven only by file_patterns/exclude_patterns.
var languageByExtension = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".jsx":  "javascript",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".md":   "markdown",
	".yaml": "yaml",
	".yml":  "yaml",
	".json": "json",
}

// Deps holds the crawler's collaborators.
type Deps struct {
	Bus       *bus.Bus
	BatchSize int
	Logger    *slog.Logger
}

// Crawler is the repository crawler handler.
type Crawler struct {
	deps Deps
	log  *slog.Logger

	invocations int64
	failures    int64
}

// New creates a Crawler bound to deps.
func New(deps Deps) *Crawler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Crawler{deps: deps, log: log}
}

var _ handler.Handler = (*Crawler)(nil)

func (c *Crawler) Name() string { return "repository_crawler" }

func (c *Crawler) CanHandle(eventType string) bool {
	return eventType == domain.EventRepositoryScanRequested
}

func (c *Crawler) GetMetrics() handler.MetricsSnapshot {
	return handler.MetricsSnapshot{Invocations: c.invocations, Failures: c.failures}
}

func (c *Crawler) Handle(ctx context.Context, env domain.Envelope) handler.Outcome {
	c.invocations++

	req, err := envelope.DecodePayload[domain.RepositoryScanRequested](env.Payload)
	if err != nil {
		c.failures++
		return c.fail(env, "DECODE_FAILED", err.Error(), false)
	}

	info, statErr := os.Stat(req.RepositoryPath)
	if statErr != nil || !info.IsDir() {
		c.failures++
		return c.fail(env, "INVALID_INPUT", fmt.Sprintf("repository_path %q is not a directory", req.RepositoryPath), false)
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = c.deps.BatchSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	files, skipped, err := walkRepository(req.RepositoryPath, req.ExcludePatterns, req.FilePatterns)
	if err != nil {
		c.failures++
		return c.fail(env, "WALK_FAILED", err.Error(), true)
	}

	summaries := make([]domain.FileSummary, 0, len(files))
	published := 0
	batches := 0

	for _, relPath := range files {
		absPath := filepath.Join(req.RepositoryPath, relPath)
		raw, readErr := os.ReadFile(absPath)
		if readErr != nil {
			c.log.Warn("crawler: read failed", "path", absPath, "error", readErr)
			skipped++
			continue
		}
		content := strings.ToValidUTF8(string(raw), string(utf8.RuneError))
		language := languageByExtension[strings.ToLower(filepath.Ext(relPath))]
		if language == "" {
			language = "unknown"
		}

		payload, encErr := envelope.EncodePayload(domain.DocumentIndexRequest{
			SourcePath: relPath,
			Content:    &content,
			Language:   language,
			ProjectID:  req.ProjectID,
		})
		if encErr != nil {
			c.log.Warn("crawler: encode failed", "path", relPath, "error", encErr)
			skipped++
			continue
		}

		out := envelope.Derive(env, domain.EventDocumentIndexRequested, payload)
		if c.deps.Bus != nil {
			if pubErr := c.deps.Bus.Publish(ctx, out); pubErr != nil {
				c.log.Warn("crawler: publish failed", "path", relPath, "error", pubErr)
				skipped++
				continue
			}
		}

		published++
		summaries = append(summaries, domain.FileSummary{Path: relPath, Language: language, Bytes: len(raw)})
		if published%batchSize == 0 {
			batches++
		}
	}
	if published%batchSize != 0 {
		batches++
	}

	completedPayload, err := envelope.EncodePayload(domain.RepositoryScanCompleted{
		FilesDiscovered: len(files),
		FilesPublished:  published,
		FilesSkipped:    skipped,
		BatchesCreated:  batches,
		FileSummaries:   summaries,
	})
	if err != nil {
		c.failures++
		return c.fail(env, "ENCODE_FAILED", err.Error(), true)
	}
	out := envelope.Derive(env, domain.EventRepositoryScanCompleted, completedPayload)
	return handler.Ack(out)
}

func (c *Crawler) fail(env domain.Envelope, code, message string, retryAllowed bool) handler.Outcome {
	payload, err := envelope.EncodePayload(domain.RepositoryScanFailed{
		ErrorCode:    code,
		ErrorMessage: message,
		RetryAllowed: retryAllowed,
	})
	if err != nil {
		return handler.DeadLetter("ENCODE_FAILED: " + err.Error())
	}
	out := envelope.Derive(env, domain.EventRepositoryScanFailed, payload)
	return handler.Ack(out)
}

// walkRepository walks root once, pruning directories matched by
// excludePatterns and filtering files by filePatterns (excluded wins on
// conflict; when filePatterns is non-empty, a file matching neither list is
// skipped; when it is empty, every non-excluded file is kept). Returns surviving
// files' paths relative to root in stable lexicographic order, plus a count
// of files skipped during the walk itself.
func walkRepository(root string, excludePatterns, filePatterns []string) ([]string, int, error) {
	var files []string
	skipped := 0

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if matchesAny(excludePatterns, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			skipped++
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if len(filePatterns) > 0 && !matchesAny(filePatterns, rel) {
			skipped++
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, skipped, err
	}

	sort.Strings(files)
	return files, skipped, nil
}

func matchesAny(patterns []string, path string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}
