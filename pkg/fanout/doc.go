// Package fanout issues one HTTP request per item with bounded concurrency
// and streams the (item, result) pairs back to a single consumer.
//
// Two entry points share one engine:
//
//   - [IterRequests] yields transformed values (JSON-decoded by default) in
//     input order.
//   - [IterResponses] yields raw responses as soon as they complete; the
//     consumer closes each body.
//
// [Iterate] exposes the engine directly with a custom [RequestBuilder] and
// [Transform].
//
// # Error policy
//
// With Config.RaiseOnError set, the first failing item stops the batch:
// running requests are cancelled, their responses released, and
// [Stream.Err] returns the item's [*ItemError]. Without it, each failure is
// delivered in the item's [Emission] and the rest of the batch continues.
//
// # Example
//
//	cfg := fanout.DefaultConfig()
//	cfg.MaxConcurrency = 5
//	cfg.ProgressLabel = "posts"
//
//	s, err := fanout.IterRequests[int, Post](ctx, http.DefaultClient,
//		"https://jsonplaceholder.typicode.com/posts", fanout.Range(1, 6), nil, cfg)
//	if err != nil {
//		return err
//	}
//	for e := range s.All() {
//		fmt.Printf("[%d] %s\n", e.Item, e.Value.Title)
//	}
//	return s.Err()
//
// Breaking out of the loop, or calling [Stream.Close], cancels what is still
// in flight.
package fanout
