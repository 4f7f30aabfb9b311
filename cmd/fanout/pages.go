package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/fanout/pkg/pagination"
)

func newPagesCmd(a *app) *cobra.Command {
	var pagesHeader string

	cmd := &cobra.Command{
		Use:   "pages <url>...",
		Short: "Fetch every page of paginated endpoints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher := pagination.NewBatchFetcher(a.client, pagination.Config{
				MaxConcurrency: a.cfg.Concurrency,
				Timeout:        a.cfg.Timeout,
				PagesHeader:    pagesHeader,
				ProgressLabel:  a.cfg.ProgressLabel,
			})

			results, err := fetcher.FetchEndpoints(cmd.Context(), args)

			out := cmd.OutOrStdout()
			for _, endpoint := range args {
				pages, ok := results[endpoint]
				if !ok {
					continue
				}
				total := 0
				for _, body := range pages {
					total += len(body)
				}
				fmt.Fprintf(out, "%s: %d pages, %d bytes\n", endpoint, len(pages), total)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&pagesHeader, "pages-header", "X-Pages", "response header carrying the page count")
	return cmd
}
