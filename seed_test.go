package harvest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func writeSeeds(t *testing.T, lines string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "seeds.txt")
	if err := os.WriteFile(p, []byte(lines), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestSeedSource_Collect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/p/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><meta property="og:image" content="/media/1.jpg">` +
			`<link rel="license" href="https://creativecommons.org/licenses/by/4.0/"></head></html>`))
	})
	mux.HandleFunc("/p/none", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>nothing</title></head></html>`))
	})
	mux.HandleFunc("/p/logo", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<meta property="og:image" content="/static/site-logo.png">`))
	})
	mux.HandleFunc("/p/login", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	path := writeSeeds(t, `
# comment
https://cdn.example.com/direct.png

`+srv.URL+`/p/ok
`+srv.URL+`/p/none
`+srv.URL+`/p/logo
`+srv.URL+`/p/login
`)

	f, _ := newTestFetcher(srv)
	src := &SeedSource{Path: path, Fetcher: f}

	cands, err := src.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("got %d candidates, want 2: %+v", len(cands), cands)
	}
	if cands[0].URL != "https://cdn.example.com/direct.png" || cands[0].Source != "seed" {
		t.Errorf("direct candidate = %+v", cands[0])
	}
	if cands[1].URL != srv.URL+"/media/1.jpg" || cands[1].OriginURL != srv.URL+"/p/ok" {
		t.Errorf("og:image candidate = %+v", cands[1])
	}
	if cands[1].License != "https://creativecommons.org/licenses/by/4.0/" {
		t.Errorf("License = %q", cands[1].License)
	}
}

func TestSeedSource_MissingFile(t *testing.T) {
	t.Parallel()

	src := &SeedSource{SourceName: "instagram_seed", Path: filepath.Join(t.TempDir(), "absent.txt")}
	cands, err := src.Collect(context.Background())
	if err != nil || len(cands) != 0 {
		t.Errorf("Collect = %v, %v; want empty, nil", cands, err)
	}
	if src.Name() != "instagram_seed" {
		t.Errorf("Name() = %q", src.Name())
	}
}
