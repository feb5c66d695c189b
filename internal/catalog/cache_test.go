package catalog

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verabot/internal/db"
	"verabot/internal/models"
)

func newTestCache(t *testing.T) (*Cache, *sqlx.DB) {
	t.Helper()
	conn, err := db.Connect(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(conn))
	t.Cleanup(func() { conn.Close() })
	return NewCache(conn), conn
}

func sampleProduct(id int64, name, brand, stock string) models.Product {
	return models.Product{
		ID: id, Name: name, Brand: brand, StockStatus: stock,
		Price: "329000", Permalink: "https://shop/p/" + name,
		Categories: []string{"Perfumes"},
	}
}

func TestUpsertIdempotent(t *testing.T) {
	c, _ := newTestCache(t)
	p := sampleProduct(42, "One Million Parfum 100ml", "Paco Rabanne", "instock")
	now := time.Now().UTC()

	require.NoError(t, c.Upsert(p, &now))
	require.NoError(t, c.Upsert(p, &now))

	n, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := c.GetByID(42)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.Brand, got.Brand)
	assert.Equal(t, p.Price, got.Price)
}

func TestGetByIDNotFound(t *testing.T) {
	c, _ := newTestCache(t)
	_, err := c.GetByID(999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearchRanksNameOverBlobAndStockFirst(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Upsert(sampleProduct(1, "Invictus Victory", "Paco Rabanne", "instock"), nil))
	require.NoError(t, c.Upsert(sampleProduct(2, "One Million", "Paco Rabanne", "instock"), nil))
	require.NoError(t, c.Upsert(sampleProduct(3, "One Million Lucky", "Paco Rabanne", "outofstock"), nil))

	got, err := c.Search("one million", 10)
	require.NoError(t, err)
	require.Len(t, got, 2, "products with no token hit are excluded")
	assert.EqualValues(t, 2, got[0].ID, "in-stock match ranks first")
	assert.EqualValues(t, 3, got[1].ID, "out-of-stock sorts after in-stock")

	// Diacritics and case are normalized away.
	got, err = c.Search("  ONE  millión ", 10)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.EqualValues(t, 2, got[0].ID)
}

func TestSearchAccentedNameKeepsNameWeight(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Upsert(sampleProduct(1, "Única Pasión 80ml", "Antonio Banderas", "instock"), nil))
	require.NoError(t, c.Upsert(models.Product{
		ID: 2, Name: "Set Regalo Mujer", Brand: "Surtido", StockStatus: "instock",
		Tags: []string{"unica pasion"},
	}, nil))

	got, err := c.Search("unica", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.EqualValues(t, 1, got[0].ID, "a name hit outranks a tag-only hit")
}

func TestSearchEmptyQuery(t *testing.T) {
	c, _ := newTestCache(t)
	got, err := c.Search("   ", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDelete(t *testing.T) {
	c, _ := newTestCache(t)
	require.NoError(t, c.Upsert(sampleProduct(7, "CK One", "Calvin Klein", "instock"), nil))
	require.NoError(t, c.Delete(7))
	_, err := c.GetByID(7)
	assert.ErrorIs(t, err, ErrNotFound)
}
