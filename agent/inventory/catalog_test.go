package inventory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

func testConfig(newURL, usedURL string) Config {
	return Config{
		NewURL:       newURL,
		NewForm:      "r=cargaAutosTodos",
		NewBustParam: "x",
		NewPaths:     []string{"#.modelo", "#.Modelo"},
		UsedURL:      usedURL,
		UsedForm:     "r=CheckDist",
		UsedPaths:    []string{"LiAutos.#.Modelo"},
		UsedReferer:  "https://vw-eurocity.com.mx/Seminuevos/",
		UserAgent:    "test-agent",
	}
}

func TestHTTPCatalogNewModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if r.PostForm.Get("r") != "cargaAutosTodos" || r.PostForm.Get("x") == "" {
			t.Errorf("form = %v", r.PostForm)
		}
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		_, _ = w.Write([]byte(`[{"modelo":"Jetta"},{"modelo":"Jetta"},{"Modelo":"Taos"},{"modelo":null},{"precio":1}]`))
	}))
	defer srv.Close()

	c, err := NewHTTPCatalog(testConfig(srv.URL, srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPCatalog() error = %v", err)
	}
	got, err := c.FetchModels(context.Background(), statex.PurchaseNew)
	if err != nil {
		t.Fatalf("FetchModels() error = %v", err)
	}
	if want := []string{"Jetta", "Taos"}; !slices.Equal(got, want) {
		t.Fatalf("models = %v, want %v", got, want)
	}
}

func TestHTTPCatalogUsedModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
			t.Errorf("X-Requested-With = %q", r.Header.Get("X-Requested-With"))
		}
		if r.Header.Get("Origin") != "https://vw-eurocity.com.mx" {
			t.Errorf("Origin = %q", r.Header.Get("Origin"))
		}
		_ = r.ParseForm()
		if r.PostForm.Get("r") != "CheckDist" || r.PostForm.Has("x") {
			t.Errorf("form = %v", r.PostForm)
		}
		_, _ = w.Write([]byte(`{"LiAutos":[{"Modelo":"Polo","Anio":2021},{"Modelo":"Vento","Anio":2019},{"Modelo":"Polo","Anio":2022}]}`))
	}))
	defer srv.Close()

	c, err := NewHTTPCatalog(testConfig(srv.URL, srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewHTTPCatalog() error = %v", err)
	}
	got, err := c.FetchModels(context.Background(), statex.PurchaseUsed)
	if err != nil {
		t.Fatalf("FetchModels() error = %v", err)
	}
	if want := []string{"Polo", "Vento"}; !slices.Equal(got, want) {
		t.Fatalf("models = %v, want %v", got, want)
	}
}

func TestHTTPCatalogFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusBadGateway, body: `[]`},
		{name: "garbled body", status: http.StatusOK, body: `<html>mantenimiento</html>`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewHTTPCatalog(testConfig(srv.URL, srv.URL), srv.Client())
			if err != nil {
				t.Fatalf("NewHTTPCatalog() error = %v", err)
			}
			_, err = c.FetchModels(context.Background(), statex.PurchaseNew)
			if !errors.Is(err, contractx.ErrCollaboratorUnavailable) {
				t.Fatalf("FetchModels() error = %v, want ErrCollaboratorUnavailable", err)
			}
		})
	}
}

func TestParseModelsToleratesMissingPaths(t *testing.T) {
	t.Parallel()

	got, err := ParseModels([]byte(`{"other":[]}`), "LiAutos.#.Modelo")
	if err != nil {
		t.Fatalf("ParseModels() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("models = %v, want none", got)
	}
}

func TestStaticCatalog(t *testing.T) {
	t.Parallel()

	c := NewStaticCatalog([]string{"Jetta"}, []string{"Polo"})
	got, _ := c.FetchModels(context.Background(), statex.PurchaseUsed)
	if !slices.Equal(got, []string{"Polo"}) {
		t.Fatalf("models = %v", got)
	}
}
