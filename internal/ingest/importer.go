// Package ingest imports crisis-support resources from PDF files and web
// pages into the resource store.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/amparo-app/amparo/internal/storage"
)

const maxResponseBodySize = 8 << 20 // 8MB

// ResourceStore persists imported resources.
// Implemented by storage.Store.
type ResourceStore interface {
	SaveSupportResource(storage.SupportResource) error
}

// Importer converts source documents into support resources.
type Importer struct {
	store      ResourceStore
	httpClient *http.Client
	logger     *slog.Logger
}

// NewImporter creates an Importer backed by the given store.
func NewImporter(store ResourceStore) *Importer {
	return &Importer{
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
	}
}

// FromPDF extracts the plain text of a PDF file and saves it as a resource
// titled after the file name.
func (im *Importer) FromPDF(path, category string) (storage.SupportResource, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return storage.SupportResource{}, fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return storage.SupportResource{}, fmt.Errorf("extracting text from %s: %w", path, err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return storage.SupportResource{}, fmt.Errorf("reading text from %s: %w", path, err)
	}

	content := collapseWhitespace(string(raw))
	if content == "" {
		return storage.SupportResource{}, fmt.Errorf("no extractable text in %s", path)
	}

	res := storage.SupportResource{
		ID:       uuid.New().String(),
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Content:  content,
		Category: category,
	}
	if err := im.store.SaveSupportResource(res); err != nil {
		return storage.SupportResource{}, fmt.Errorf("saving resource: %w", err)
	}
	return res, nil
}

// FromURL fetches a web page, strips the markup, and saves the text as a
// resource titled after the page's <title>.
func (im *Importer) FromURL(ctx context.Context, url, category string) (storage.SupportResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return storage.SupportResource{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := im.httpClient.Do(req)
	if err != nil {
		return storage.SupportResource{}, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return storage.SupportResource{}, fmt.Errorf("fetching %s: unexpected status %d", url, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return storage.SupportResource{}, fmt.Errorf("parsing %s: %w", url, err)
	}

	title := pageTitle(doc)
	if title == "" {
		title = url
	}
	content := htmlToText(doc)
	if content == "" {
		return storage.SupportResource{}, fmt.Errorf("no extractable text at %s", url)
	}

	res := storage.SupportResource{
		ID:       uuid.New().String(),
		Title:    title,
		Content:  content,
		Category: category,
		URL:      url,
	}
	if err := im.store.SaveSupportResource(res); err != nil {
		return storage.SupportResource{}, fmt.Errorf("saving resource: %w", err)
	}
	return res, nil
}

// Import brings in a batch of sources, each either a local file path or an
// http(s) URL. Sources are processed concurrently; the first failure aborts
// the batch.
func (im *Importer) Import(ctx context.Context, sources []string, category string) ([]storage.SupportResource, error) {
	if len(sources) == 0 {
		return nil, nil
	}
	results := make([]storage.SupportResource, len(sources))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // Bound concurrency for large batches.

	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			res, err := im.importOne(gCtx, src, category)
			if err != nil {
				return err
			}
			im.logger.Info("resource imported", "source", src, "title", res.Title)
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (im *Importer) importOne(ctx context.Context, src, category string) (storage.SupportResource, error) {
	switch {
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		return im.FromURL(ctx, src, category)
	case strings.EqualFold(filepath.Ext(src), ".pdf"):
		return im.FromPDF(src, category)
	default:
		return storage.SupportResource{}, fmt.Errorf("unsupported source %s: expected a URL or .pdf file", src)
	}
}

// pageTitle returns the text of the first <title> element, if any.
func pageTitle(doc *html.Node) string {
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// htmlToText collects the document's visible text, skipping script and
// style subtrees.
func htmlToText(doc *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return collapseWhitespace(sb.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
