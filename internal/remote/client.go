// Package remote is the adapter for the hosted document store. It speaks the
// store's REST dialect and normalizes its failures into typed errors so the
// layers above never see transport details.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/qrsafety/backend/internal/config"
)

// Document is a schemaless record as stored remotely.
type Document map[string]any

// Query describes a filtered, ordered, cursor-paginated collection read.
type Query struct {
	Filters  map[string]string
	OrderBy  string
	Desc     bool
	PageSize int
	Cursor   string
}

// Page is one page of a collection read.
type Page struct {
	Items      []Document `json:"documents"`
	NextCursor string     `json:"nextCursor"`
	HasMore    bool       `json:"hasMore"`
}

// Client talks to the remote document store. All methods honor the request
// context and return *Error on failure.
type Client struct {
	http      *resty.Client
	legacy    *resty.Client
	chunkSize int
	pageSize  int
	logger    *zap.Logger
}

// NewClient builds a client from the remote store configuration. When a
// legacy base URL is configured, reads denied by the primary endpoint are
// retried once against it.
func NewClient(cfg config.RemoteConfig, logger *zap.Logger) *Client {
	c := &Client{
		http:      newResty(cfg.BaseURL, cfg, logger),
		chunkSize: cfg.BatchChunkSize,
		pageSize:  cfg.PageSize,
		logger:    logger,
	}
	if cfg.LegacyBaseURL != "" {
		c.legacy = newResty(cfg.LegacyBaseURL, cfg, logger)
	}
	return c
}

func newResty(baseURL string, cfg config.RemoteConfig, logger *zap.Logger) *resty.Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("X-Api-Key", cfg.APIKey)
	}
	client.SetLogger(restyLogger{logger})
	return client
}

// FetchOne retrieves a single document by ID. A missing document is
// ErrNotFound; a permission-denied read falls back to the legacy endpoint
// once before failing.
func (c *Client) FetchOne(ctx context.Context, collection, id string) (Document, error) {
	doc, err := c.fetchOne(ctx, c.http, collection, id)
	if err != nil && IsPermissionDenied(err) && c.legacy != nil {
		c.logger.Warn("remote read denied, retrying against legacy endpoint",
			zap.String("collection", collection),
			zap.String("id", id),
		)
		return c.fetchOne(ctx, c.legacy, collection, id)
	}
	return doc, err
}

func (c *Client) fetchOne(ctx context.Context, client *resty.Client, collection, id string) (Document, error) {
	var doc Document
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&doc).
		Get(fmt.Sprintf("/v1/%s/%s", collection, id))
	if err != nil {
		return nil, &Error{Op: "fetch", Collection: collection, Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, &Error{Op: "fetch", Collection: collection, Status: resp.StatusCode(), Err: ErrNotFound}
	}
	if resp.IsError() {
		return nil, &Error{Op: "fetch", Collection: collection, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
	}
	return doc, nil
}

// FetchMany retrieves one page of a collection matching the query. The zero
// Query lists the whole collection with the configured default page size.
func (c *Client) FetchMany(ctx context.Context, collection string, query Query) (Page, error) {
	page, err := c.fetchMany(ctx, c.http, collection, query)
	if err != nil && IsPermissionDenied(err) && c.legacy != nil {
		c.logger.Warn("remote list denied, retrying against legacy endpoint",
			zap.String("collection", collection),
		)
		return c.fetchMany(ctx, c.legacy, collection, query)
	}
	return page, err
}

func (c *Client) fetchMany(ctx context.Context, client *resty.Client, collection string, query Query) (Page, error) {
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = c.pageSize
	}

	req := client.R().
		SetContext(ctx).
		SetQueryParam("pageSize", strconv.Itoa(pageSize))
	for field, value := range query.Filters {
		req.SetQueryParam("filter."+field, value)
	}
	if query.OrderBy != "" {
		req.SetQueryParam("orderBy", query.OrderBy)
		if query.Desc {
			req.SetQueryParam("desc", "true")
		}
	}
	if query.Cursor != "" {
		req.SetQueryParam("cursor", query.Cursor)
	}

	var page Page
	resp, err := req.SetResult(&page).Get("/v1/" + collection)
	if err != nil {
		return Page{}, &Error{Op: "list", Collection: collection, Err: err}
	}
	if resp.IsError() {
		return Page{}, &Error{Op: "list", Collection: collection, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
	}
	return page, nil
}

// FetchBatch retrieves many documents by ID in chunked parallel requests.
// Results preserve input order; missing IDs leave a nil slot.
func (c *Client) FetchBatch(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	results := make([]Document, len(ids))
	errCh := make(chan error, (len(ids)+c.chunkSize-1)/c.chunkSize)
	var wg sync.WaitGroup

	for start := 0; start < len(ids); start += c.chunkSize {
		end := start + c.chunkSize
		if end > len(ids) {
			end = len(ids)
		}

		wg.Add(1)
		go func(offset int, chunk []string) {
			defer wg.Done()

			var page Page
			resp, err := c.http.R().
				SetContext(ctx).
				SetQueryParam("ids", strings.Join(chunk, ",")).
				SetResult(&page).
				Get("/v1/" + collection)
			if err != nil {
				errCh <- &Error{Op: "batch", Collection: collection, Err: err}
				return
			}
			if resp.IsError() {
				errCh <- &Error{Op: "batch", Collection: collection, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
				return
			}

			byID := make(map[string]Document, len(page.Items))
			for _, doc := range page.Items {
				if id, ok := doc["id"].(string); ok {
					byID[id] = doc
				}
			}
			for i, id := range chunk {
				results[offset+i] = byID[id]
			}
		}(start, ids[start:end])
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	return results, nil
}

// FetchSub lists a document's sub-collection.
func (c *Client) FetchSub(ctx context.Context, collection, id, sub string) ([]Document, error) {
	var page Page
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&page).
		Get(fmt.Sprintf("/v1/%s/%s/%s", collection, id, sub))
	if err != nil {
		return nil, &Error{Op: "fetch-sub", Collection: collection + "/" + sub, Err: err}
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if resp.IsError() {
		return nil, &Error{Op: "fetch-sub", Collection: collection + "/" + sub, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
	}
	return page.Items, nil
}

// AppendSub appends a document to a sub-collection, e.g. a verification log
// entry under a certificate.
func (c *Client) AppendSub(ctx context.Context, collection, id, sub string, doc Document) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(doc).
		Post(fmt.Sprintf("/v1/%s/%s/%s", collection, id, sub))
	if err != nil {
		return &Error{Op: "append-sub", Collection: collection + "/" + sub, Err: err}
	}
	if resp.IsError() {
		return &Error{Op: "append-sub", Collection: collection + "/" + sub, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
	}
	return nil
}

// Write upserts a document under the given ID with merge semantics: fields
// absent from doc keep their stored values.
func (c *Client) Write(ctx context.Context, collection, id string, doc Document) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(doc).
		Patch(fmt.Sprintf("/v1/%s/%s", collection, id))
	if err != nil {
		return &Error{Op: "write", Collection: collection, Err: err}
	}
	if resp.IsError() {
		return &Error{Op: "write", Collection: collection, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
	}
	return nil
}

// Delete removes a document. Deleting an absent document is not an error.
func (c *Client) Delete(ctx context.Context, collection, id string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/v1/%s/%s", collection, id))
	if err != nil {
		return &Error{Op: "delete", Collection: collection, Err: err}
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return &Error{Op: "delete", Collection: collection, Status: resp.StatusCode(), Err: fmt.Errorf("unexpected response: %s", resp.String())}
	}
	return nil
}

// restyLogger routes resty's internal logging through zap.
type restyLogger struct {
	logger *zap.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}
