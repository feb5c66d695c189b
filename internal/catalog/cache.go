package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"verabot/internal/models"
	"verabot/internal/textutil"
)

// ErrNotFound is returned when a product id is not in the cache.
var ErrNotFound = errors.New("product not in cache")

// Cache is the local mirror of the store catalog. It answers product
// lookups and searches when the live provider is slow, rate-limited or
// behind an open breaker.
type Cache struct {
	db *sqlx.DB
}

func NewCache(db *sqlx.DB) *Cache {
	return &Cache{db: db}
}

// Upsert writes one product into the cache. Calling it twice with the
// same product is a no-op apart from the cached_at column. The name and
// brand columns hold normalized text; they exist only for the LIKE
// scoring, display values live in the data JSON.
func (c *Cache) Upsert(p models.Product, updatedAtSource *time.Time) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	q := c.db.Rebind(`INSERT INTO products_cache
		(product_id, data, name, price, brand, permalink, featured_image, real_image,
		 stock_status, search_blob, updated_at_source, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id) DO UPDATE SET
		 data = excluded.data, name = excluded.name, price = excluded.price,
		 brand = excluded.brand, permalink = excluded.permalink,
		 featured_image = excluded.featured_image, real_image = excluded.real_image,
		 stock_status = excluded.stock_status, search_blob = excluded.search_blob,
		 updated_at_source = excluded.updated_at_source, cached_at = excluded.cached_at`)
	_, err = c.db.Exec(q, p.ID, string(raw), textutil.Normalize(p.Name), p.Price,
		textutil.Normalize(p.Brand), p.Permalink,
		p.FeaturedImage, p.RealImage, p.StockStatus, buildSearchBlob(p),
		updatedAtSource, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache upsert %d: %w", p.ID, err)
	}
	return nil
}

// GetByID returns the cached product or ErrNotFound.
func (c *Cache) GetByID(id int64) (models.Product, error) {
	var raw string
	q := c.db.Rebind(`SELECT data FROM products_cache WHERE product_id = ?`)
	if err := c.db.Get(&raw, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Product{}, ErrNotFound
		}
		return models.Product{}, err
	}
	var p models.Product
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.Product{}, err
	}
	return p, nil
}

// Delete drops one product from the cache.
func (c *Cache) Delete(id int64) error {
	q := c.db.Rebind(`DELETE FROM products_cache WHERE product_id = ?`)
	_, err := c.db.Exec(q, id)
	return err
}

// Count returns the number of cached products.
func (c *Cache) Count() (int, error) {
	var n int
	err := c.db.Get(&n, `SELECT COUNT(1) FROM products_cache`)
	return n, err
}

// Search ranks cached products against the normalized query tokens.
// Name hits weigh more than brand hits, brand hits more than anything
// else in the search blob. In-stock products sort first, then score,
// then newest product id.
func (c *Cache) Search(query string, limit int) ([]models.Product, error) {
	tokens := textutil.Tokens(query)
	if len(tokens) > 8 {
		tokens = tokens[:8]
	}
	if len(tokens) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	var scoreParts []string
	var tokArgs []interface{}
	for _, tok := range tokens {
		pat := "%" + tok + "%"
		scoreParts = append(scoreParts,
			`(CASE WHEN name LIKE ? THEN 3 ELSE 0 END) +
			 (CASE WHEN brand LIKE ? THEN 2 ELSE 0 END) +
			 (CASE WHEN search_blob LIKE ? THEN 1 ELSE 0 END)`)
		tokArgs = append(tokArgs, pat, pat, pat)
	}
	score := strings.Join(scoreParts, " + ")
	q := c.db.Rebind(fmt.Sprintf(`SELECT data, (%s) AS score,
		(CASE WHEN stock_status = 'instock' OR stock_status = '' THEN 1 ELSE 0 END) AS sellable
		FROM products_cache
		WHERE (%s) > 0
		ORDER BY sellable DESC, score DESC, product_id DESC
		LIMIT ?`, score, score))

	// The scoring expression appears twice (SELECT and WHERE), so the
	// token placeholders repeat.
	args := make([]interface{}, 0, len(tokArgs)*2+1)
	args = append(args, tokArgs...)
	args = append(args, tokArgs...)
	args = append(args, limit)

	rows, err := c.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("cache search: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var raw string
		var score, sellable int
		if err := rows.Scan(&raw, &score, &sellable); err != nil {
			return nil, err
		}
		var p models.Product
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// buildSearchBlob flattens every searchable product facet into one
// normalized string the LIKE scoring runs against.
func buildSearchBlob(p models.Product) string {
	parts := []string{p.Name, p.Brand, p.Gender, p.Size, p.ShortDesc}
	parts = append(parts, p.Categories...)
	parts = append(parts, p.Tags...)
	parts = append(parts, p.Aromas...)
	return textutil.Normalize(strings.Join(parts, " "))
}
