// Package discover crawls a site to enumerate the pages a test suite should
// cover.
package discover

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/raysh454/miru/internal/logging"
	"github.com/raysh454/miru/internal/model"
	"github.com/raysh454/miru/internal/utils"
)

// Config bounds a crawl.
type Config struct {
	MaxDepth int
	MaxPages int
	// Timeout bounds each page fetch.
	Timeout time.Duration
	// Viewports is the device matrix; every discovered page becomes one
	// task per viewport.
	Viewports []model.Viewport
}

// DefaultConfig returns the standard crawl bounds.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 2,
		MaxPages: 50,
		Timeout:  15 * time.Second,
		Viewports: []model.Viewport{
			{Width: 1280, Height: 800},
		},
	}
}

// Page is one discovered page.
type Page struct {
	URL   string
	Title string
	Depth int
}

// Spider walks same-domain links breadth-first from a root URL.
type Spider struct {
	cfg    Config
	client *http.Client
	logger logging.Logger
}

// NewSpider builds a spider; a nil client gets a default with cfg.Timeout.
func NewSpider(cfg Config, client *http.Client, logger logging.Logger) *Spider {
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = def.MaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if len(cfg.Viewports) == 0 {
		cfg.Viewports = def.Viewports
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("discover")
	}
	return &Spider{cfg: cfg, client: client, logger: logger}
}

// Enumerate crawls from root and returns the discovered pages in visit order,
// root first.
func (s *Spider) Enumerate(ctx context.Context, root string) ([]Page, error) {
	canonical, err := utils.Canonicalize(root)
	if err != nil {
		return nil, fmt.Errorf("discover: bad root url %q: %w", root, err)
	}
	rootTools, err := utils.NewURLTools(canonical)
	if err != nil {
		return nil, fmt.Errorf("discover: bad root url %q: %w", root, err)
	}

	depth := map[string]int{canonical: 0}
	queue := []Page{{URL: canonical, Depth: 0}}

	for i := 0; i < len(queue); i++ {
		if err := ctx.Err(); err != nil {
			return queue[:i], err
		}
		pageURL, pageDepth := queue[i].URL, queue[i].Depth
		if pageDepth > s.cfg.MaxDepth {
			queue = queue[:i]
			break
		}

		title, links, err := s.crawlPage(ctx, pageURL)
		if err != nil {
			s.logger.Warn("page crawl failed",
				logging.Field{Key: "url", Value: pageURL},
				logging.Field{Key: "error", Value: err.Error()})
			continue
		}
		queue[i].Title = title

		for _, link := range links {
			if len(queue) >= s.cfg.MaxPages {
				break
			}
			linkTools, err := utils.NewURLTools(link)
			if err != nil {
				continue
			}
			if !rootTools.DomainIsSame(linkTools) {
				continue
			}
			normalized := linkTools.URL.String()
			if _, seen := depth[normalized]; seen {
				continue
			}
			depth[normalized] = pageDepth + 1
			queue = append(queue, Page{URL: normalized, Depth: pageDepth + 1})
		}
	}

	return queue, nil
}

// Tasks crawls from root and expands every discovered page across the
// viewport matrix. The page title doubles as the test name.
func (s *Spider) Tasks(ctx context.Context, root string) ([]model.TestTask, error) {
	pages, err := s.Enumerate(ctx, root)
	if err != nil {
		return nil, err
	}

	var tasks []model.TestTask
	for _, page := range pages {
		name := page.Title
		if name == "" {
			name = page.URL
		}
		for _, vp := range s.cfg.Viewports {
			tasks = append(tasks, model.TestTask{
				Name:     fmt.Sprintf("%s @%dx%d", name, vp.Width, vp.Height),
				URL:      page.URL,
				Viewport: vp,
			})
		}
	}
	return tasks, nil
}

// crawlPage fetches one page and pulls its title and outgoing links.
func (s *Spider) crawlPage(ctx context.Context, target string) (string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", nil, fmt.Errorf("fetching %s: status %d", target, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		return "", nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", nil, fmt.Errorf("parsing %s: %w", target, err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())

	base, err := utils.NewURLTools(target)
	if err != nil {
		return title, nil, err
	}
	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := base.ResolveFullUrlString(href)
		if err != nil {
			return
		}
		links = append(links, resolved)
	})
	return title, links, nil
}
