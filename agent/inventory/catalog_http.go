package inventory

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	contractx "github.com/tanpawarit/chative-lead-dispatch/agent/contract"
	statex "github.com/tanpawarit/chative-lead-dispatch/agent/state"
)

const maxCatalogBody = 4 << 20

// Endpoint describes one catalog page: a form POST whose JSON answer holds model names at Paths.
type Endpoint struct {
	URL       string
	Form      url.Values
	BustParam string
	Paths     []string
	Headers   map[string]string
}

// HTTPCatalog scrapes the dealership JSON endpoints.
type HTTPCatalog struct {
	client    *http.Client
	endpoints map[statex.PurchaseType]Endpoint
}

var _ contractx.Catalog = (*HTTPCatalog)(nil)

func NewHTTPCatalog(cfg Config, client *http.Client) (*HTTPCatalog, error) {
	if client == nil {
		client = http.DefaultClient
	}

	newForm, err := url.ParseQuery(cfg.NewForm)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog new form: %v", contractx.ErrValidation, err)
	}
	usedForm, err := url.ParseQuery(cfg.UsedForm)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog used form: %v", contractx.ErrValidation, err)
	}

	base := map[string]string{"User-Agent": cfg.UserAgent}
	used := map[string]string{
		"User-Agent":       cfg.UserAgent,
		"X-Requested-With": "XMLHttpRequest",
	}
	if ref := strings.TrimSpace(cfg.UsedReferer); ref != "" {
		used["Referer"] = ref
		if u, err := url.Parse(ref); err == nil && u.Host != "" {
			used["Origin"] = u.Scheme + "://" + u.Host
		}
	}

	c := &HTTPCatalog{
		client: client,
		endpoints: map[statex.PurchaseType]Endpoint{
			statex.PurchaseNew: {
				URL:       strings.TrimSpace(cfg.NewURL),
				Form:      newForm,
				BustParam: cfg.NewBustParam,
				Paths:     cfg.NewPaths,
				Headers:   base,
			},
			statex.PurchaseUsed: {
				URL:     strings.TrimSpace(cfg.UsedURL),
				Form:    usedForm,
				Paths:   cfg.UsedPaths,
				Headers: used,
			},
		},
	}
	for pt, ep := range c.endpoints {
		if ep.URL == "" || len(ep.Paths) == 0 {
			return nil, fmt.Errorf("%w: catalog endpoint for %s needs a url and paths", contractx.ErrValidation, pt)
		}
	}
	return c, nil
}

func (c *HTTPCatalog) FetchModels(ctx context.Context, pt statex.PurchaseType) ([]string, error) {
	ep, ok := c.endpoints[pt]
	if !ok {
		return nil, fmt.Errorf("%w: unknown purchase type %q", contractx.ErrValidation, pt)
	}

	form := url.Values{}
	for k, v := range ep.Form {
		form[k] = append([]string(nil), v...)
	}
	if ep.BustParam != "" {
		form.Set(ep.BustParam, strconv.FormatFloat(rand.Float64(), 'f', -1, 64))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	for k, v := range ep.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: catalog %s: %v", contractx.ErrCollaboratorUnavailable, pt, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogBody))
	if err != nil {
		return nil, fmt.Errorf("%w: catalog %s: read body: %v", contractx.ErrCollaboratorUnavailable, pt, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: catalog %s: status %d", contractx.ErrCollaboratorUnavailable, pt, resp.StatusCode)
	}

	return ParseModels(body, ep.Paths...)
}

// ParseModels collects the strings found at any of paths. Garbled JSON is an error; missing
// paths and non-string values are skipped.
func ParseModels(body []byte, paths ...string) ([]string, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: catalog returned invalid json", contractx.ErrCollaboratorUnavailable)
	}
	var out []string
	for _, p := range paths {
		gjson.GetBytes(body, p).ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String {
				out = append(out, v.Str)
			}
			return true
		})
	}
	return Dedup(out), nil
}
