package dirsync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
)

// defaultPageSize requested from provider list endpoints.
const defaultPageSize = 100

// PageStrategy selects how the next request is derived from the previous
// response.
type PageStrategy int

const (
	// StrategyOffset increments an offset query parameter by the page
	// size and terminates on the first short page.
	StrategyOffset PageStrategy = iota
	// StrategyCursor round-trips an opaque continuation token as a query
	// parameter and terminates when the response carries none.
	StrategyCursor
	// StrategyNextURL issues the complete next-page URL from the
	// response verbatim and terminates when absent.
	StrategyNextURL
)

// ListResponse is the uniform shape adapters decode provider list
// responses into. Cursor carries the continuation token or next URL;
// empty means the listing is exhausted (ignored under StrategyOffset).
type ListResponse struct {
	Records []json.RawMessage
	Cursor  string
}

// DecodeFunc turns one raw response body into a ListResponse.
type DecodeFunc func(body []byte) (ListResponse, error)

// PrepareFunc builds the request for one page URL, adding auth and
// accept headers.
type PrepareFunc func(ctx context.Context, pageURL string) (*http.Request, error)

// Page is one page of raw records. A page with Err set ends the
// sequence; the consumer decides whether to keep pages already returned
// or abort the run.
type Page struct {
	Records []json.RawMessage
	Err     error
}

// PagerConfig configures a Pager.
type PagerConfig struct {
	Client   *http.Client
	BaseURL  string
	Strategy PageStrategy
	Decode   DecodeFunc
	Prepare  PrepareFunc

	// PageSize requested per page; zero selects the default.
	PageSize int
	// OffsetParam and LimitParam name the offset strategy query
	// parameters (e.g. "skip"/"limit").
	OffsetParam string
	LimitParam  string
	// CursorParam names the cursor strategy query parameter
	// (e.g. "pageToken").
	CursorParam string
}

// Pager lazily walks a provider list endpoint. It is not restartable
// mid-run; construct a fresh Pager for every run.
type Pager struct {
	cfg PagerConfig

	cursor  string
	offset  int
	started bool
	done    bool
}

// NewPager creates a Pager for the given endpoint and strategy.
func NewPager(cfg PagerConfig) *Pager {
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultPageSize
	}

	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}

	return &Pager{cfg: cfg}
}

// Next returns the next page. The second return value is false when the
// sequence is exhausted. After a page with Err set, the sequence ends.
func (p *Pager) Next(ctx context.Context) (Page, bool) {
	if p.done {
		return Page{}, false
	}

	pageURL, err := p.nextURL()
	if err != nil {
		p.done = true
		return Page{Err: err}, true
	}

	req, err := p.cfg.Prepare(ctx, pageURL)
	if err != nil {
		p.done = true
		return Page{Err: errors.Wrap(err, "failed to build page request")}, true
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		p.done = true
		return Page{Err: errors.Wrap(err, "page request failed")}, true
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if err != nil {
		p.done = true
		return Page{Err: errors.Wrap(err, "failed to read page response")}, true
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.done = true
		return Page{Err: &HTTPError{Status: resp.StatusCode, URL: pageURL, Body: string(body)}}, true
	}

	decoded, err := p.cfg.Decode(body)
	if err != nil {
		p.done = true
		return Page{Err: errors.Wrap(err, "failed to decode page response")}, true
	}

	p.advance(decoded)
	pagesFetched.Inc()

	return Page{Records: decoded.Records}, true
}

// nextURL computes the request URL for the upcoming page.
func (p *Pager) nextURL() (string, error) {
	switch p.cfg.Strategy {
	case StrategyOffset:
		return withParams(p.cfg.BaseURL, map[string]string{
			p.cfg.OffsetParam: strconv.Itoa(p.offset),
			p.cfg.LimitParam:  strconv.Itoa(p.cfg.PageSize),
		})
	case StrategyCursor:
		if !p.started || p.cursor == "" {
			return p.cfg.BaseURL, nil
		}

		return withParams(p.cfg.BaseURL, map[string]string{
			p.cfg.CursorParam: p.cursor,
		})
	case StrategyNextURL:
		if !p.started {
			return p.cfg.BaseURL, nil
		}

		// issued verbatim, no parameter reconstruction
		return p.cursor, nil
	}

	return "", fmt.Errorf("unknown pagination strategy %d", p.cfg.Strategy)
}

// advance updates the continuation state and decides termination.
func (p *Pager) advance(decoded ListResponse) {
	p.started = true

	switch p.cfg.Strategy {
	case StrategyOffset:
		p.offset += p.cfg.PageSize
		if len(decoded.Records) < p.cfg.PageSize {
			p.done = true
		}
	case StrategyCursor, StrategyNextURL:
		p.cursor = decoded.Cursor
		if p.cursor == "" {
			p.done = true
		}
	}
}

// Drain collects every page of the sequence, stopping at the first error
// page. Records of pages received before the failure are returned along
// with the error so the consumer can decide what to keep.
func Drain(ctx context.Context, p *Pager) ([]json.RawMessage, error) {
	var records []json.RawMessage

	for {
		page, ok := p.Next(ctx)
		if !ok {
			return records, nil
		}

		if page.Err != nil {
			return records, page.Err
		}

		records = append(records, page.Records...)
	}
}

// withParams adds query parameters to a URL, keeping existing ones.
func withParams(base string, params map[string]string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Wrap(err, "invalid list endpoint url")
	}

	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}

	u.RawQuery = q.Encode()

	return u.String(), nil
}
