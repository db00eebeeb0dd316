package discover

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raysh454/miru/internal/model"
)

func testSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server

	page := func(title string, links ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, "<html><head><title>%s</title></head><body>", title)
			for _, l := range links {
				fmt.Fprintf(w, `<a href=%q>link</a>`, l)
			}
			fmt.Fprint(w, `<a href="#fragment">skip</a></body></html>`)
		}
	}

	mux.HandleFunc("/", page("Home", "/about", "/pricing"))
	mux.HandleFunc("/about", page("About", "/", "/team"))
	mux.HandleFunc("/pricing", page("Pricing", "https://elsewhere.example/external"))
	mux.HandleFunc("/team", page("Team"))

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSpiderEnumerate(t *testing.T) {
	srv := testSite(t)
	s := NewSpider(Config{MaxDepth: 3, MaxPages: 10}, srv.Client(), nil)

	pages, err := s.Enumerate(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}

	byURL := make(map[string]Page, len(pages))
	for _, p := range pages {
		byURL[p.URL] = p
	}
	// Normalization trims the trailing slash, so the root keys as srv.URL.
	for _, want := range []string{srv.URL, srv.URL + "/about", srv.URL + "/pricing", srv.URL + "/team"} {
		if _, ok := byURL[want]; !ok {
			t.Fatalf("page %s not discovered; got %v", want, pages)
		}
	}
	for url := range byURL {
		if strings.Contains(url, "elsewhere.example") {
			t.Fatalf("crossed domains: %s", url)
		}
	}
	if home, ok := byURL[srv.URL]; !ok || home.Title != "Home" {
		t.Fatalf("root title = %q, want Home", home.Title)
	}
	// /team is only reachable through /about.
	if byURL[srv.URL+"/team"].Depth != 2 {
		t.Fatalf("team depth = %d, want 2", byURL[srv.URL+"/team"].Depth)
	}
}

func TestSpiderDepthBound(t *testing.T) {
	srv := testSite(t)
	s := NewSpider(Config{MaxDepth: 1, MaxPages: 10}, srv.Client(), nil)

	pages, err := s.Enumerate(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	for _, p := range pages {
		if p.Depth > 1 {
			t.Fatalf("page %s at depth %d exceeds bound", p.URL, p.Depth)
		}
	}
}

func TestSpiderPageBound(t *testing.T) {
	srv := testSite(t)
	s := NewSpider(Config{MaxDepth: 5, MaxPages: 2}, srv.Client(), nil)

	pages, err := s.Enumerate(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(pages) > 2 {
		t.Fatalf("discovered %d pages, bound was 2", len(pages))
	}
}

func TestSpiderTasksExpandViewports(t *testing.T) {
	srv := testSite(t)
	s := NewSpider(Config{
		MaxDepth: 0,
		MaxPages: 1,
		Viewports: []model.Viewport{
			{Width: 1280, Height: 800},
			{Width: 375, Height: 812},
		},
	}, srv.Client(), nil)

	tasks, err := s.Tasks(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 (one page x two viewports)", len(tasks))
	}
	if !strings.HasPrefix(tasks[0].Name, "Home") {
		t.Fatalf("task name %q does not use the page title", tasks[0].Name)
	}
	if tasks[0].Viewport == tasks[1].Viewport {
		t.Fatalf("viewports not expanded")
	}
}
