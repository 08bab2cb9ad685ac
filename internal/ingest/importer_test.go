package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"golang.org/x/net/html"

	"github.com/amparo-app/amparo/internal/storage"
)

type fakeResourceStore struct {
	mu    sync.Mutex
	saved []storage.SupportResource
}

func (f *fakeResourceStore) SaveSupportResource(r storage.SupportResource) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, r)
	return nil
}

func parseHTML(t *testing.T, src string) *html.Node {
	t.Helper()
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("parsing html: %v", err)
	}
	return doc
}

func TestHTMLToText_SkipsScriptAndStyle(t *testing.T) {
	doc := parseHTML(t, `<html><head>
		<style>body { color: red }</style>
		<script>alert("x")</script>
	</head><body>
		<h1>CVV</h1>
		<p>Ligue   188, disponível

		24 horas.</p>
	</body></html>`)

	got := htmlToText(doc)

	if strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Errorf("script/style text leaked: %q", got)
	}
	if !strings.Contains(got, "CVV Ligue 188, disponível 24 horas.") {
		t.Errorf("text not collapsed as expected: %q", got)
	}
}

func TestPageTitle(t *testing.T) {
	doc := parseHTML(t, `<html><head><title>  CVV — Apoio Emocional </title></head><body>x</body></html>`)
	if got := pageTitle(doc); got != "CVV — Apoio Emocional" {
		t.Errorf("pageTitle = %q", got)
	}
}

func TestFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>CVV</title></head><body><p>Ligue 188</p></body></html>`))
	}))
	defer srv.Close()

	store := &fakeResourceStore{}
	im := NewImporter(store)

	res, err := im.FromURL(context.Background(), srv.URL, "emergency")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	if res.Title != "CVV" {
		t.Errorf("Title = %q, want CVV", res.Title)
	}
	if !strings.Contains(res.Content, "Ligue 188") {
		t.Errorf("Content = %q", res.Content)
	}
	if res.Category != "emergency" || res.URL != srv.URL {
		t.Errorf("unexpected resource: %+v", res)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d resources, want 1", len(store.saved))
	}
}

func TestFromURL_TitleFallsBackToURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>sem título</p></body></html>`))
	}))
	defer srv.Close()

	im := NewImporter(&fakeResourceStore{})
	res, err := im.FromURL(context.Background(), srv.URL, "")
	if err != nil {
		t.Fatalf("FromURL: %v", err)
	}
	if res.Title != srv.URL {
		t.Errorf("Title = %q, want %q", res.Title, srv.URL)
	}
}

func TestFromURL_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	im := NewImporter(&fakeResourceStore{})
	if _, err := im.FromURL(context.Background(), srv.URL, ""); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFromPDF_MissingFile(t *testing.T) {
	im := NewImporter(&fakeResourceStore{})
	if _, err := im.FromPDF("/nonexistent/file.pdf", ""); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestImport_MixedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Recurso</title></head><body><p>conteúdo</p></body></html>`))
	}))
	defer srv.Close()

	store := &fakeResourceStore{}
	im := NewImporter(store)

	results, err := im.Import(context.Background(), []string{srv.URL, srv.URL + "/other"}, "meetings")
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// Results keep the order of the sources regardless of completion order.
	if results[0].URL != srv.URL || results[1].URL != srv.URL+"/other" {
		t.Errorf("result order not preserved: %+v", results)
	}
	if len(store.saved) != 2 {
		t.Errorf("saved %d resources, want 2", len(store.saved))
	}
}

func TestImport_UnsupportedSource(t *testing.T) {
	im := NewImporter(&fakeResourceStore{})
	if _, err := im.Import(context.Background(), []string{"notes.txt"}, ""); err == nil {
		t.Fatal("expected error for unsupported source")
	}
}

func TestImport_EmptyBatch(t *testing.T) {
	im := NewImporter(&fakeResourceStore{})
	results, err := im.Import(context.Background(), nil, "")
	if err != nil || results != nil {
		t.Fatalf("Import(nil) = %v, %v; want nil, nil", results, err)
	}
}
