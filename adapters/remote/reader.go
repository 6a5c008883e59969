package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Reader fetches records from a JSON endpoint, following pagination.
type Reader struct {
	src        Source
	httpClient *http.Client
	log        zerolog.Logger
}

// NewReader creates a reader for src. A nil client uses one with the
// source timeout.
func NewReader(src Source, client *http.Client, log zerolog.Logger) *Reader {
	src = src.withDefaults()
	if client == nil {
		client = &http.Client{Timeout: src.Timeout}
	}
	return &Reader{src: src, httpClient: client, log: log}
}

// Fetch returns every record found at the data path across pages.
func (r *Reader) Fetch(ctx context.Context) ([]gjson.Result, error) {
	if err := r.src.Validate(); err != nil {
		return nil, err
	}
	startTime := time.Now()

	var records []gjson.Result
	cursor := ""
	for page := 0; page < r.src.MaxPages; page++ {
		if page > 0 {
			if err := r.pause(ctx); err != nil {
				return nil, err
			}
		}
		target := r.buildURL(cursor, page)
		body, err := r.get(ctx, target)
		if err != nil {
			return nil, err
		}
		batch, err := r.parseResponse(body)
		if err != nil {
			return nil, fmt.Errorf("failed to parse response from %s: %w", target, err)
		}
		records = append(records, batch...)
		r.log.Debug().Str("url", target).Int("records", len(batch)).Msg("page fetched")

		if r.src.Pagination == PaginationCursor {
			cursor = extractNextCursor(body)
			if cursor == "" {
				break
			}
			continue
		}
		if r.src.Pagination == PaginationNone || len(batch) < r.src.PageSize {
			break
		}
	}

	r.log.Debug().Int("records", len(records)).Dur("elapsed", time.Since(startTime)).Msg("remote fetch finished")
	return records, nil
}

// buildURL adds the configured query and pagination parameters.
func (r *Reader) buildURL(cursor string, page int) string {
	u, _ := url.Parse(r.src.URL)
	q := u.Query()
	for k, v := range r.src.QueryParams {
		q.Set(k, v)
	}
	switch r.src.Pagination {
	case PaginationOffset:
		q.Set("offset", strconv.Itoa(page*r.src.PageSize))
		q.Set("limit", strconv.Itoa(r.src.PageSize))
	case PaginationPage:
		q.Set("page", strconv.Itoa(page+1))
		q.Set("per_page", strconv.Itoa(r.src.PageSize))
	case PaginationCursor:
		if cursor != "" {
			q.Set("cursor", cursor)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (r *Reader) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.src.Headers {
		req.Header.Set(k, v)
	}
	switch r.src.AuthMethod {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+r.src.AuthToken)
	case "api_key":
		req.Header.Set("X-API-Key", r.src.AuthToken)
	case "basic":
		req.SetBasicAuth(r.src.Username, r.src.Password)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d: %.200s", target, resp.StatusCode, body)
	}
	return body, nil
}

// parseResponse extracts the records at the data path. A single object is
// treated as one record.
func (r *Reader) parseResponse(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	data := gjson.ParseBytes(body)
	if r.src.DataPath != "" {
		data = data.Get(r.src.DataPath)
		if !data.Exists() {
			return nil, fmt.Errorf("data path %q not found in response", r.src.DataPath)
		}
	}
	switch {
	case data.IsArray():
		return data.Array(), nil
	case data.IsObject():
		return []gjson.Result{data}, nil
	}
	return nil, fmt.Errorf("data path %q is not an array or object", r.src.DataPath)
}

// pause spaces page requests to the configured rate.
func (r *Reader) pause(ctx context.Context) error {
	t := time.NewTimer(time.Minute / time.Duration(r.src.RateLimit))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// extractNextCursor looks for the common next-page cursor fields.
func extractNextCursor(body []byte) string {
	for _, field := range []string{"next_cursor", "cursor", "next", "continuation_token"} {
		if cursor := gjson.GetBytes(body, field); cursor.Exists() && cursor.String() != "" {
			return cursor.String()
		}
	}
	return ""
}
