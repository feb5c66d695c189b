package woocommerce

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"verabot/config"
	"verabot/internal/catalog"
	"verabot/internal/models"
	"verabot/internal/textutil"
)

// Client talks to the WooCommerce REST API (wp-json/wc/v3).
type Client struct {
	http           *resty.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
}

func NewClient(cfg *config.Config) *Client {
	httpClient := resty.New().
		SetTimeout(20 * time.Second).
		SetHeader("User-Agent", "verabot/1.0")
	return &Client{
		http:           httpClient,
		baseURL:        cfg.WCBaseURL,
		consumerKey:    cfg.WCConsumerKey,
		consumerSecret: cfg.WCConsumerSecret,
	}
}

// Enabled reports whether store credentials are configured.
func (c *Client) Enabled() bool {
	return c.baseURL != "" && c.consumerKey != "" && c.consumerSecret != ""
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, result interface{}) error {
	if !c.Enabled() {
		return catalog.ErrNotEnabled
	}
	req := c.http.R().SetContext(ctx).
		SetQueryParam("consumer_key", c.consumerKey).
		SetQueryParam("consumer_secret", c.consumerSecret).
		SetResult(result)
	for k, v := range params {
		req.SetQueryParam(k, v)
	}
	resp, err := req.Get(c.baseURL + "/wp-json/wc/v3" + path)
	if err != nil {
		return fmt.Errorf("woocommerce request: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("woocommerce error %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// FetchProduct returns one product by id.
func (c *Client) FetchProduct(ctx context.Context, id int64) (models.Product, error) {
	var raw wcProduct
	if err := c.get(ctx, "/products/"+strconv.FormatInt(id, 10), nil, &raw); err != nil {
		return models.Product{}, err
	}
	return mapProduct(raw), nil
}

// ListProducts returns one catalog page, mapped. With newestFirst the
// store orders by modification date descending, which backs the
// incremental sync.
func (c *Client) ListProducts(ctx context.Context, page, perPage int, newestFirst bool) ([]catalog.ProviderProduct, error) {
	params := map[string]string{
		"page":     strconv.Itoa(page),
		"per_page": strconv.Itoa(perPage),
		"status":   "publish",
	}
	if newestFirst {
		params["orderby"] = "date"
		params["order"] = "desc"
	}
	var raw []wcProduct
	if err := c.get(ctx, "/products", params, &raw); err != nil {
		return nil, err
	}
	out := make([]catalog.ProviderProduct, 0, len(raw))
	for _, p := range raw {
		item := catalog.ProviderProduct{Product: mapProduct(p)}
		if p.DateModified != "" {
			if ts, err := time.Parse("2006-01-02T15:04:05", p.DateModified); err == nil {
				item.Modified = &ts
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// SearchProducts runs the store search with a fallback ladder: the raw
// query, then common misspelling fixes (aqua/acqua di gio), then the
// first tokens. Preference-style queries widen to a generic catalog
// pull instead of chasing a name that does not exist.
func (c *Client) SearchProducts(ctx context.Context, query string, perPage int) ([]models.Product, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	isPref := LooksLikePreferenceQuery(q)
	baseQ := q
	if isPref {
		baseQ = "perfume"
		if perPage < 24 {
			perPage = 24
		}
	}

	items, err := c.searchOnce(ctx, baseQ, perPage)
	if err != nil {
		return nil, err
	}
	if len(items) > 0 || isPref {
		return items, nil
	}

	q2 := textutil.Normalize(q)
	for _, fix := range [][2]string{
		{"aqua de gio", "acqua di gio"},
		{"acqua de gio", "acqua di gio"},
		{"aqua di gio", "acqua di gio"},
		{"aqua", "acqua"},
		{" de ", " di "},
	} {
		q2 = strings.ReplaceAll(q2, fix[0], fix[1])
	}
	if q2 != "" && q2 != q {
		if items, err = c.searchOnce(ctx, q2, perPage); err != nil {
			return nil, err
		}
		if len(items) > 0 {
			return items, nil
		}
	}

	var toks []string
	for _, t := range strings.Fields(q2) {
		if len(t) >= 2 {
			toks = append(toks, t)
		}
	}
	if len(toks) >= 2 {
		q3 := strings.Join(toks[:min(3, len(toks))], " ")
		if q3 != q && q3 != q2 {
			if items, err = c.searchOnce(ctx, q3, perPage); err != nil {
				return nil, err
			}
			if len(items) > 0 {
				return items, nil
			}
		}
	}

	log.Debug().Str("query", q).Msg("Store search exhausted fallbacks with no results")
	return nil, nil
}

func (c *Client) searchOnce(ctx context.Context, q string, perPage int) ([]models.Product, error) {
	params := map[string]string{
		"search":   q,
		"page":     "1",
		"per_page": strconv.Itoa(perPage),
		"status":   "publish",
	}
	var raw []wcProduct
	if err := c.get(ctx, "/products", params, &raw); err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(raw))
	for _, p := range raw {
		out = append(out, mapProduct(p))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InStock() != out[j].InStock() {
			return out[i].InStock()
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
