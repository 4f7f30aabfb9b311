package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/fanout/pkg/fanout"
)

const noTitle = "(no title)"

// post is the subset of a JSONPlaceholder post the CLI prints.
type post struct {
	ID    int     `json:"id"`
	Title *string `json:"title"`
}

func (p post) title() string {
	if p.Title == nil {
		return noTitle
	}
	return *p.Title
}

func newPostsCmd(a *app) *cobra.Command {
	var (
		ids       []int
		itemRange string
	)

	cmd := &cobra.Command{
		Use:   "posts",
		Short: "Fetch posts and print their titles",
		Long: `Fetch <base-url>/<id> for every id and print "[id] title".

Without --items or --range both demo flows run against posts 1..5: the
default JSON decode and an explicit transform.`,
		Example: `  fanout posts
  fanout posts --range 1-20 --concurrency 8 --progress-label Posts
  fanout posts --items 3,1,2 --order completion`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			ctx := cmd.Context()

			if len(ids) == 0 && itemRange == "" {
				return a.runPostsDemo(ctx, out)
			}

			items := ids
			if itemRange != "" {
				r, err := parseRange(itemRange)
				if err != nil {
					return err
				}
				items = append(items, r...)
			}
			return a.printPosts(ctx, out, items, nil, "")
		},
	}

	cmd.Flags().IntSliceVar(&ids, "items", nil, "post ids to fetch")
	cmd.Flags().StringVar(&itemRange, "range", "", "inclusive id range, e.g. 1-5")
	return cmd
}

func (a *app) runPostsDemo(ctx context.Context, out io.Writer) error {
	fmt.Fprintln(out, "\n=== IterRequests (range: posts 1..5) ===")
	if err := a.printPosts(ctx, out, fanout.Range(1, 6), nil, "Range"); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n=== IterRequests (items=[1..5], custom transform) ===")
	return a.printPosts(ctx, out, []int{1, 2, 3, 4, 5}, decodePost, "IterRequests")
}

func (a *app) printPosts(ctx context.Context, out io.Writer, items []int, transform fanout.Transform[int, post], label string) error {
	cfg, err := a.fanoutConfig(label)
	if err != nil {
		return err
	}

	stream, err := fanout.IterRequests(ctx, a.client, a.cfg.BaseURL, items, transform, cfg)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Next() {
		e := stream.Emission()
		if e.Err != nil {
			fmt.Fprintf(out, "[%d] error: %v\n", e.Item, e.Err)
			continue
		}
		fmt.Fprintf(out, "[%d] %s\n", e.Item, e.Value.title())
	}
	return stream.Err()
}

// decodePost owns the body and closes it after decoding.
func decodePost(_ context.Context, id int, resp *http.Response) (post, error) {
	defer resp.Body.Close()

	var p post
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return post{}, fmt.Errorf("decode post %d: %w", id, err)
	}
	return p, nil
}

func newResponsesCmd(a *app) *cobra.Command {
	var itemRange string

	cmd := &cobra.Command{
		Use:   "responses",
		Short: "Fetch resources and print raw response statuses as they complete",
		RunE: func(cmd *cobra.Command, _ []string) error {
			items, err := parseRange(itemRange)
			if err != nil {
				return err
			}
			cfg, err := a.fanoutConfig("")
			if err != nil {
				return err
			}

			stream, err := fanout.IterResponses(cmd.Context(), a.client, a.cfg.BaseURL, items, cfg)
			if err != nil {
				return err
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			for e := range stream.All() {
				if e.Err != nil {
					fmt.Fprintf(out, "[%d] error: %v\n", e.Item, e.Err)
					continue
				}
				n, _ := io.Copy(io.Discard, e.Value.Body)
				e.Value.Body.Close()
				fmt.Fprintf(out, "[%d] %s (%d bytes)\n", e.Item, e.Value.Status, n)
			}
			return stream.Err()
		},
	}

	cmd.Flags().StringVar(&itemRange, "range", "1-5", "inclusive id range")
	return cmd
}

// parseRange parses "a-b" (inclusive) or a single id.
func parseRange(s string) ([]int, error) {
	lo, hi, found := strings.Cut(strings.TrimSpace(s), "-")
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return nil, fmt.Errorf("invalid range %q: %w", s, err)
	}
	end := start
	if found {
		if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return nil, fmt.Errorf("invalid range %q: %w", s, err)
		}
	}
	if end < start {
		return nil, fmt.Errorf("invalid range %q: end before start", s)
	}
	return fanout.Range(start, end+1), nil
}
