package fonts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeFonts(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("font"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPreload(t *testing.T) {
	dir := t.TempDir()
	writeFonts(t, dir, "Arial.ttf", "truetype/TimesNewRoman-Bold.otf", "Georgia.txt")

	r := NewRegistry(filepath.Join(dir, "missing"), dir)
	err := r.Preload(context.Background(), "Arial", "Times New Roman", "serif", "Georgia", "Arial")
	if err == nil || !strings.Contains(err.Error(), "Georgia") {
		t.Fatalf("expected Georgia to be reported missing, got %v", err)
	}
	if strings.Contains(err.Error(), "Arial") {
		t.Errorf("Arial reported missing: %v", err)
	}

	for _, family := range []string{"Arial", "arial", "Times New Roman", "'Times New Roman'", "serif"} {
		if !r.IsLoaded(family) {
			t.Errorf("%s should be loaded", family)
		}
	}
	if r.IsLoaded("Georgia") {
		t.Error("Georgia has no font file and should not be loaded")
	}
}

func TestPreloadCancelled(t *testing.T) {
	r := NewRegistry(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Preload(ctx, "Arial"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitForFont(t *testing.T) {
	r := NewRegistry()

	go func() {
		time.Sleep(150 * time.Millisecond)
		r.register("Lato", "test")
	}()
	if err := r.WaitForFont(context.Background(), "Lato", 2*time.Second); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if err := r.WaitForFont(context.Background(), "Nope", 150*time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestLoadStylesheet(t *testing.T) {
	css := `
@font-face { font-family: 'Open Sans'; src: url(a.woff2); }
@font-face { font-family: "Open Sans"; font-weight: 700; src: url(b.woff2); }
@font-face { font-family: Merriweather; src: url(c.woff2); }
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fonts.css" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte(css))
	}))
	defer srv.Close()

	r := NewRegistry()
	got, err := r.LoadStylesheet(context.Background(), srv.URL+"/fonts.css")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if want := []string{"Open Sans", "Merriweather"}; !reflect.DeepEqual(got, want) {
		t.Errorf("families = %v, want %v", got, want)
	}
	if !r.IsLoaded("open sans") || !r.IsLoaded("Merriweather") {
		t.Error("declared families should be loaded")
	}

	if _, err := r.LoadStylesheet(context.Background(), srv.URL+"/missing.css"); err == nil {
		t.Error("expected an error for a missing stylesheet")
	}
}
