package fanout

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const testBaseURL = "http://posts.test/posts"

type post struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

// itemBehavior scripts how fakeDoer answers one item.
type itemBehavior struct {
	delay   time.Duration
	status  int
	err     error
	badJSON bool
}

// fakeDoer answers GET .../<id> after a per-item delay and counts bodies and
// concurrent calls.
type fakeDoer struct {
	mu        sync.Mutex
	behaviors map[int]itemBehavior
	inflight  int
	peak      int
	calls     []int

	opened       atomic.Int64
	closed       atomic.Int64
	doubleClosed atomic.Int64
	cancelled    atomic.Int64
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{behaviors: make(map[int]itemBehavior)}
}

func (d *fakeDoer) on(id int, b itemBehavior) *fakeDoer {
	d.behaviors[id] = b
	return d
}

func (d *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	id, err := strconv.Atoi(path.Base(req.URL.Path))
	if err != nil {
		return nil, fmt.Errorf("bad path %q", req.URL.Path)
	}

	d.mu.Lock()
	b := d.behaviors[id]
	d.calls = append(d.calls, id)
	d.inflight++
	d.peak = max(d.peak, d.inflight)
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
	}()

	if b.delay > 0 {
		timer := time.NewTimer(b.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-req.Context().Done():
			d.cancelled.Add(1)
			return nil, req.Context().Err()
		}
	}

	if b.err != nil {
		return nil, b.err
	}

	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	payload := fmt.Sprintf(`{"id":%d,"title":"post %d"}`, id, id)
	if b.badJSON {
		payload = "not json"
	}

	d.opened.Add(1)
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       &countingBody{Reader: strings.NewReader(payload), d: d},
		Request:    req,
	}, nil
}

func (d *fakeDoer) peakInflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peak
}

func (d *fakeDoer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type countingBody struct {
	io.Reader
	d      *fakeDoer
	closed atomic.Bool
}

func (b *countingBody) Close() error {
	if b.closed.Swap(true) {
		b.d.doubleClosed.Add(1)
		return nil
	}
	b.d.closed.Add(1)
	return nil
}

// recordingSink counts progress calls.
type recordingSink struct {
	label      string
	total      int
	increments int
	finishes   int
}

func (s *recordingSink) Increment() { s.increments++ }
func (s *recordingSink) Finish()    { s.finishes++ }

func testConfig(maxConcurrency int, raise bool) Config {
	logger := zerolog.Nop()
	return Config{
		MaxConcurrency: maxConcurrency,
		RaiseOnError:   raise,
		Logger:         &logger,
	}
}

func items(emissions []Emission[int, post]) []int {
	out := make([]int, 0, len(emissions))
	for _, e := range emissions {
		out = append(out, e.Item)
	}
	return out
}
