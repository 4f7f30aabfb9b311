package cache

import (
	"net/http"
	"net/url"
	"testing"
	"time"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "path only",
			key:  Key{Method: "get", Host: "api.test", Path: "/posts/1/"},
			want: "GET:api.test/posts/1",
		},
		{
			name: "sorted query",
			key:  Key{Method: "GET", Host: "api.test", Path: "/markets", Query: url.Values{"page": {"2"}, "order": {"all"}}},
			want: "GET:api.test/markets:order=all&page=2",
		},
		{
			name: "variant",
			key:  Key{Method: "GET", Host: "api.test", Path: "/me", Variant: "user-7"},
			want: "GET:api.test/me:v=user-7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyFromRequest(t *testing.T) {
	req, _ := http.NewRequest("", "https://api.test/posts?page=3", nil)
	req.Method = ""

	key := KeyFromRequest(req)
	if key.String() != "GET:api.test/posts:page=3" {
		t.Errorf("KeyFromRequest() = %q", key.String())
	}
}

func TestEntry_Freshness(t *testing.T) {
	fresh := &Entry{Expires: time.Now().Add(time.Minute)}
	if fresh.IsExpired() || fresh.TTL() <= 0 {
		t.Error("entry should be fresh")
	}

	stale := &Entry{Expires: time.Now().Add(-time.Minute)}
	if !stale.IsExpired() || stale.TTL() != 0 {
		t.Error("entry should be stale with zero TTL")
	}

	if stale.CanRevalidate() {
		t.Error("entry without validators cannot be revalidated")
	}
	stale.ETag = `"x"`
	if !stale.CanRevalidate() {
		t.Error("entry with ETag can be revalidated")
	}
}
