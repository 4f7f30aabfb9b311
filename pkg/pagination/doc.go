// Package pagination fetches every page of a paginated JSON endpoint on top
// of a fan-out batch.
//
// The endpoint reports its page count in a response header (X-Pages by
// default) and takes the page number as a query parameter. The first page
// is fetched alone to learn the count; the rest run as one batch with
// bounded concurrency, in continue mode, so a failing page does not discard
// the pages that succeeded.
//
// Example usage:
//
//	fetcher := pagination.NewBatchFetcher(httpClient, pagination.DefaultConfig())
//	pages, err := fetcher.FetchAllPages(ctx, "https://api.example.com/comments")
//	if err != nil {
//		// pages still holds what was fetched
//	}
//
// FetchEndpoints runs several endpoints at once with an errgroup.
package pagination
