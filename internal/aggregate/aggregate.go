// Package aggregate retrieves paginated sample entries from a NOMAD oasis
// and enriches each one with its owning upload and author, consulting the
// cache store before going to the API.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"nomadclient/internal/cachestore"
	"nomadclient/internal/logging"
	"nomadclient/pkg/client"
)

// PageSize is the maximum page size the backend allows. The page loop always
// requests full pages.
const PageSize = 100

// DefaultSectionType is the ELN section the sample query filters on.
const DefaultSectionType = "HySprint_Sample"

// SampleRecord is one enriched, flat sample row assembled from an entry, its
// upload and its author.
type SampleRecord struct {
	UploadID          string  `json:"upload_id"`
	UploadName        string  `json:"upload_name"`
	SampleName        string  `json:"sample_name"`
	LabID             string  `json:"lab_id"`
	UploadDate        string  `json:"upload_date"` // YYYY-MM-DD, empty when absent
	AuthorID          string  `json:"author_id"`
	AuthorDisplayName string  `json:"author_display_name"`
	CellArea          float64 `json:"cell_area"`
	Efficiency        float64 `json:"efficiency"`
}

// SkipReason records one entry that was excluded from the result set and why.
type SkipReason struct {
	EntryID  string `json:"entry_id"`
	UploadID string `json:"upload_id"`
	Reason   string `json:"reason"`
}

// Result is the outcome of one sample retrieval run. Skipped lists entries
// whose enrichment failed; their failures do not abort the run.
type Result struct {
	Records   []SampleRecord
	Skipped   []SkipReason
	Total     int // server-reported total before any max-records bound
	Owner     string
	FromCache bool
}

// cachedResult is the persisted envelope of a whole-result cache entry.
// Skips are not carried over; a cache hit reports a clean run.
type cachedResult struct {
	Records []SampleRecord `json:"records"`
	Total   int            `json:"total"`
	Owner   string         `json:"owner"`
}

// Options bound and filter one retrieval run.
type Options struct {
	// MaxRecords caps the number of returned records; 0 retrieves everything.
	MaxRecords int
	// SectionType overrides DefaultSectionType.
	SectionType string
	// BypassCache skips the whole-result cache check, forcing remote
	// retrieval. Fetched data is still written back.
	BypassCache bool
}

// Engine drives the API client and the cache store to assemble sample
// records. A nil store disables persistent caching; the in-run author memo
// still prevents redundant API calls within a single retrieval.
type Engine struct {
	client *client.Client
	store  *cachestore.Store
}

// New creates an engine over the given client and cache store. store may be
// nil to run without persistent caching.
func New(c *client.Client, store *cachestore.Store) *Engine {
	return &Engine{client: c, store: store}
}

// rawEntry is the slice of an entries/query record the engine consumes.
type rawEntry struct {
	EntryID  string `json:"entry_id"`
	UploadID string `json:"upload_id"`
	Data     struct {
		Name  string `json:"name"`
		LabID string `json:"lab_id"`
	} `json:"data"`
	Results struct {
		Properties struct {
			Optoelectronic struct {
				SolarCell struct {
					CellArea   float64 `json:"cell_area"`
					Efficiency float64 `json:"efficiency"`
				} `json:"solar_cell"`
			} `json:"optoelectronic"`
		} `json:"properties"`
	} `json:"results"`
}

// FetchSamples retrieves all matching sample entries page by page and
// enriches them with upload and author metadata. The access scope is
// negotiated admin-first with a visible fallback; a failure of both, or of
// any page fetch, aborts the whole call. Per-entry enrichment failures are
// isolated into Result.Skipped.
func (e *Engine) FetchSamples(ctx context.Context, opts Options) (*Result, error) {
	sectionType := opts.SectionType
	if sectionType == "" {
		sectionType = DefaultSectionType
	}

	runID := uuid.New().String()
	logger := logging.WithRun(runID, e.client.BaseURL())

	// An identical earlier run may have cached the complete record set.
	cacheKey := fmt.Sprintf("samples_%s_max_%d", sectionType, opts.MaxRecords)
	if !opts.BypassCache && e.store != nil {
		var cached cachedResult
		if e.store.GetJSON(cachestore.KindEntries, cacheKey, &cached) {
			logger.Info("serving sample records from cache", "records", len(cached.Records))
			return &Result{
				Records:   cached.Records,
				Total:     cached.Total,
				Owner:     cached.Owner,
				FromCache: true,
			}, nil
		}
	}

	firstPage, owner, err := e.negotiateAccess(ctx, logger, sectionType)
	if err != nil {
		return nil, err
	}

	total := firstPage.Pagination.Total
	// Computed once from the first page; not revisited even if the server
	// total drifts during iteration.
	totalPages := (total + PageSize - 1) / PageSize
	logger.Info("retrieving samples", "total", total, "pages", totalPages, "owner", owner, "max_records", opts.MaxRecords)

	result := &Result{Total: total, Owner: owner}
	authorMemo := make(map[string]*client.User)

	done := e.appendEntries(ctx, logger, result, firstPage.Data, authorMemo, opts.MaxRecords)
	for page := 2; page <= totalPages && !done; page++ {
		resp, err := e.queryPage(ctx, sectionType, owner, page)
		if err != nil {
			return nil, fmt.Errorf("page %d fetch failed: %w", page, err)
		}
		done = e.appendEntries(ctx, logger, result, resp.Data, authorMemo, opts.MaxRecords)
		logger.Debug("processed page", "page", page, "records", len(result.Records))
	}

	if e.store != nil {
		envelope := cachedResult{Records: result.Records, Total: result.Total, Owner: result.Owner}
		if err := e.store.PutJSON(cachestore.KindEntries, cacheKey, envelope); err != nil {
			logger.Warn("failed to cache sample records", "error", err)
		}
	}

	logger.Info("sample retrieval complete", "records", len(result.Records), "skipped", len(result.Skipped))
	return result, nil
}

// negotiateAccess attempts the sample query with admin scope first and falls
// back to visible scope. When both fail the last error is surfaced.
func (e *Engine) negotiateAccess(ctx context.Context, logger *slog.Logger, sectionType string) (*client.QueryResponse, string, error) {
	var lastErr error
	for _, owner := range []string{"admin", "visible"} {
		resp, err := e.queryPage(ctx, sectionType, owner, 1)
		if err == nil {
			return resp, owner, nil
		}
		lastErr = err
		logger.Warn("sample query rejected", "owner", owner, "error", err)
	}
	return nil, "", lastErr
}

// appendEntries enriches a page of raw entries into result, truncating at
// maxRecords. Returns true once the bound is reached and paging must stop.
func (e *Engine) appendEntries(ctx context.Context, logger *slog.Logger, result *Result, entries []json.RawMessage, authorMemo map[string]*client.User, maxRecords int) bool {
	for _, raw := range entries {
		if maxRecords > 0 && len(result.Records) >= maxRecords {
			return true
		}
		record, skip := e.enrich(ctx, logger, raw, authorMemo)
		if skip != nil {
			logger.Warn("skipping entry", "entry_id", skip.EntryID, "upload_id", skip.UploadID, "reason", skip.Reason)
			result.Skipped = append(result.Skipped, *skip)
			continue
		}
		result.Records = append(result.Records, record)
	}
	return maxRecords > 0 && len(result.Records) >= maxRecords
}

// enrich assembles one SampleRecord from a raw entry, resolving its upload
// and author through the cache store with an API fallback.
func (e *Engine) enrich(ctx context.Context, logger *slog.Logger, raw json.RawMessage, authorMemo map[string]*client.User) (SampleRecord, *SkipReason) {
	var entry rawEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return SampleRecord{}, &SkipReason{Reason: fmt.Sprintf("unparseable entry: %v", err)}
	}
	if entry.UploadID == "" {
		return SampleRecord{}, &SkipReason{EntryID: entry.EntryID, Reason: "entry has no upload_id"}
	}

	upload, err := e.lookupUpload(ctx, logger, entry.UploadID)
	if err != nil {
		return SampleRecord{}, &SkipReason{
			EntryID:  entry.EntryID,
			UploadID: entry.UploadID,
			Reason:   fmt.Sprintf("upload fetch failed: %v", err),
		}
	}

	// Author resolution is best-effort: a failed lookup falls back to the
	// raw author id instead of skipping the entry.
	author := e.lookupAuthor(ctx, logger, upload.MainAuthor, authorMemo)

	return SampleRecord{
		UploadID:          entry.UploadID,
		UploadName:        upload.UploadName,
		SampleName:        entry.Data.Name,
		LabID:             entry.Data.LabID,
		UploadDate:        normalizeDate(upload.UploadCreateTime),
		AuthorID:          upload.MainAuthor,
		AuthorDisplayName: author.DisplayName(),
		CellArea:          entry.Results.Properties.Optoelectronic.SolarCell.CellArea,
		Efficiency:        entry.Results.Properties.Optoelectronic.SolarCell.Efficiency,
	}, nil
}

// lookupUpload resolves upload metadata, cache first, writing back on fetch.
func (e *Engine) lookupUpload(ctx context.Context, logger *slog.Logger, uploadID string) (*client.Upload, error) {
	if e.store != nil {
		var upload client.Upload
		if e.store.GetJSON(cachestore.KindUploads, uploadID, &upload) {
			return &upload, nil
		}
	}

	upload, err := e.client.UploadByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		if err := e.store.PutJSON(cachestore.KindUploads, uploadID, upload); err != nil {
			logging.WithKind(logger, string(cachestore.KindUploads)).Warn("cache write failed", "key", uploadID, "error", err)
		}
	}
	return upload, nil
}

// lookupAuthor resolves author metadata: in-run memo, then cache store, then
// API. The memo holds the outcome either way so one unreachable user costs a
// single API call per run even with the store disabled or cold.
func (e *Engine) lookupAuthor(ctx context.Context, logger *slog.Logger, authorID string, memo map[string]*client.User) *client.User {
	if authorID == "" {
		return &client.User{}
	}
	if user, ok := memo[authorID]; ok {
		return user
	}

	if e.store != nil {
		var user client.User
		if e.store.GetJSON(cachestore.KindUsers, authorID, &user) {
			memo[authorID] = &user
			return &user
		}
	}

	user, err := e.client.UserByID(ctx, authorID)
	if err != nil {
		logger.Warn("author lookup failed", "author_id", authorID, "error", err)
		fallback := &client.User{UserID: authorID}
		memo[authorID] = fallback
		return fallback
	}
	if user.UserID == "" {
		// Sparse user records still resolve to the raw author id.
		user.UserID = authorID
	}

	if e.store != nil {
		if err := e.store.PutJSON(cachestore.KindUsers, authorID, user); err != nil {
			logging.WithKind(logger, string(cachestore.KindUsers)).Warn("cache write failed", "key", authorID, "error", err)
		}
	}
	memo[authorID] = user
	return user
}

// queryPage issues the sample query for one page under the given owner scope.
func (e *Engine) queryPage(ctx context.Context, sectionType, owner string, page int) (*client.QueryResponse, error) {
	payload := map[string]interface{}{
		"owner": owner,
		"query": map[string]interface{}{
			"and": []interface{}{
				map[string]interface{}{"results.eln.sections:any": []string{sectionType}},
				map[string]interface{}{"quantities:all": []string{"data"}},
			},
		},
		"pagination": map[string]interface{}{
			"page_size": PageSize,
			"page":      page,
		},
	}

	raw, err := e.client.Request(ctx, http.MethodPost, "entries/query", nil, payload)
	if err != nil {
		return nil, err
	}
	var resp client.QueryResponse
	if raw != nil {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse entries response: %w", err)
		}
	}
	return &resp, nil
}

// normalizeDate renders an upload timestamp as YYYY-MM-DD, or empty when the
// value is absent or unparseable.
func normalizeDate(value string) string {
	if value == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}
