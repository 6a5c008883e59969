// Package remote loads datasets from JSON HTTP endpoints.
package remote

import (
	"fmt"
	"net/url"
	"time"

	"curvefit/internal/errors"
)

// Pagination styles understood by the reader.
const (
	PaginationNone   = "none"
	PaginationOffset = "offset"
	PaginationPage   = "page"
	PaginationCursor = "cursor"
)

// Source describes one JSON endpoint holding dataset records.
type Source struct {
	URL         string            `json:"url" yaml:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty" yaml:"query_params,omitempty"`

	// Authentication: "none", "bearer", "api_key" or "basic".
	AuthMethod string `json:"auth_method,omitempty" yaml:"auth_method,omitempty"`
	AuthToken  string `json:"auth_token,omitempty" yaml:"auth_token,omitempty"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`

	// DataPath is a gjson path to the record array, e.g. "data.items".
	DataPath string `json:"data_path,omitempty" yaml:"data_path,omitempty"`

	Pagination string        `json:"pagination,omitempty" yaml:"pagination,omitempty"`
	PageSize   int           `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	MaxPages   int           `json:"max_pages,omitempty" yaml:"max_pages,omitempty"`
	RateLimit  int           `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"` // requests per minute
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// withDefaults fills unset paging and timeout fields.
func (s Source) withDefaults() Source {
	if s.Pagination == "" {
		s.Pagination = PaginationNone
	}
	if s.AuthMethod == "" {
		s.AuthMethod = "none"
	}
	if s.PageSize <= 0 {
		s.PageSize = 100
	}
	if s.MaxPages <= 0 {
		s.MaxPages = 10
	}
	if s.RateLimit <= 0 {
		s.RateLimit = 60
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	return s
}

// Validate checks the URL and the enumerated fields.
func (s Source) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.InvalidInput(fmt.Sprintf("remote source url %q must be an absolute http(s) URL", s.URL))
	}
	switch s.withDefaults().Pagination {
	case PaginationNone, PaginationOffset, PaginationPage, PaginationCursor:
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown pagination %q", s.Pagination))
	}
	switch s.withDefaults().AuthMethod {
	case "none", "bearer", "api_key", "basic":
	default:
		return errors.InvalidInput(fmt.Sprintf("unknown auth method %q", s.AuthMethod))
	}
	return nil
}
