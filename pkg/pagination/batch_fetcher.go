package pagination

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/fanout/pkg/fanout"
	"github.com/Sternrassler/fanout/pkg/logging"
)

// ErrTooManyPages is returned when PagesHeader exceeds Config.MaxPages.
var ErrTooManyPages = errors.New("too many pages")

// Config holds batch fetcher configuration
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests
	MaxConcurrency int

	// MaxEndpoints bounds FetchEndpoints
	MaxEndpoints int

	// MaxPages is the largest page count accepted from PagesHeader
	MaxPages int

	// Timeout per page fetch
	Timeout time.Duration

	// PageParam is the query parameter carrying the page number
	PageParam string

	// PagesHeader is the response header carrying the page count
	PagesHeader string

	// ProgressLabel enables a progress sink for the remaining pages
	ProgressLabel string
}

// DefaultConfig returns safe default configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		MaxEndpoints:   2,
		MaxPages:       1000,
		Timeout:        15 * time.Second,
		PageParam:      "page",
		PagesHeader:    "X-Pages",
	}
}

// BatchFetcher fetches all pages of an endpoint.
type BatchFetcher struct {
	doer   fanout.Doer
	config Config
	logger zerolog.Logger
}

// NewBatchFetcher creates a new batch fetcher. Zero config fields take
// their DefaultConfig values.
func NewBatchFetcher(doer fanout.Doer, config Config) *BatchFetcher {
	def := DefaultConfig()
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	if config.MaxEndpoints <= 0 {
		config.MaxEndpoints = def.MaxEndpoints
	}
	if config.MaxPages <= 0 {
		config.MaxPages = def.MaxPages
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.PageParam == "" {
		config.PageParam = def.PageParam
	}
	if config.PagesHeader == "" {
		config.PagesHeader = def.PagesHeader
	}

	return &BatchFetcher{
		doer:   doer,
		config: config,
		logger: logging.NewLogger("pagination"),
	}
}

// FetchAllPages fetches every page of endpoint and returns page number ->
// body. If some pages fail, the successful ones are returned together with
// an error joining the failures.
func (bf *BatchFetcher) FetchAllPages(ctx context.Context, endpoint string) (map[int][]byte, error) {
	start := time.Now()
	build := fanout.QueryRequest[int](bf.config.PageParam)

	firstPage, totalPages, err := bf.fetchFirst(ctx, build, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch first page: %w", err)
	}

	results := map[int][]byte{1: firstPage}
	if totalPages <= 1 {
		bf.logger.Info().
			Str("endpoint", endpoint).
			Int("pages", 1).
			Dur("duration", time.Since(start)).
			Msg("Fetch complete (single page)")
		return results, nil
	}

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("total_pages", totalPages).
		Msg("Starting parallel page fetch")

	logger := bf.logger
	stream, err := fanout.Iterate(ctx, bf.doer, fanout.Batch[int, []byte]{
		BaseURL:   endpoint,
		Items:     fanout.Range(2, totalPages+1),
		Request:   build,
		Transform: fanout.ReadBody[int],
	}, fanout.Config{
		MaxConcurrency: bf.config.MaxConcurrency,
		Order:          fanout.OrderAdmission,
		Timeout:        bf.config.Timeout,
		ProgressLabel:  bf.config.ProgressLabel,
		Logger:         &logger,
	})
	if err != nil {
		return results, err
	}

	var failures []error
	for e := range stream.All() {
		if e.Err != nil {
			failures = append(failures, e.Err)
			continue
		}
		results[e.Item] = e.Value
	}
	if err := stream.Err(); err != nil {
		failures = append(failures, err)
	}

	if len(failures) > 0 {
		bf.logger.Warn().
			Int("fetched_pages", len(results)).
			Int("total_pages", totalPages).
			Int("failed_pages", len(failures)).
			Msg("Returning partial results")
		return results, fmt.Errorf("partial data: %d/%d pages: %w", len(results), totalPages, errors.Join(failures...))
	}

	bf.logger.Info().
		Str("endpoint", endpoint).
		Int("pages", len(results)).
		Dur("duration", time.Since(start)).
		Msg("Fetch complete")

	return results, nil
}

// FetchEndpoints fetches several paginated endpoints, at most MaxEndpoints
// at a time. The first endpoint error cancels the others.
func (bf *BatchFetcher) FetchEndpoints(ctx context.Context, endpoints []string) (map[string]map[int][]byte, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(bf.config.MaxEndpoints)

	var mu sync.Mutex
	out := make(map[string]map[int][]byte, len(endpoints))

	for _, endpoint := range endpoints {
		g.Go(func() error {
			pages, err := bf.FetchAllPages(ctx, endpoint)
			if err != nil {
				return fmt.Errorf("%s: %w", endpoint, err)
			}
			mu.Lock()
			out[endpoint] = pages
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

func (bf *BatchFetcher) fetchFirst(ctx context.Context, build fanout.RequestBuilder[int], endpoint string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, bf.config.Timeout)
	defer cancel()

	req, err := build(ctx, endpoint, 1)
	if err != nil {
		return nil, 0, err
	}

	resp, err := bf.doer.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, &fanout.StatusError{StatusCode: resp.StatusCode, Status: resp.Status, Body: string(body)}
	}

	total := 1
	if v := resp.Header.Get(bf.config.PagesHeader); v != "" {
		if total, err = strconv.Atoi(v); err != nil {
			return nil, 0, fmt.Errorf("parse %s header: %w", bf.config.PagesHeader, err)
		}
		if total > bf.config.MaxPages {
			return nil, 0, fmt.Errorf("%w: %s %d exceeds %d", ErrTooManyPages, bf.config.PagesHeader, total, bf.config.MaxPages)
		}
	}
	return body, total, nil
}
