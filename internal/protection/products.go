package protection

import (
	"sort"
	"strings"

	"github.com/lox/vinerisk/internal/models"
)

// DefaultProducts is the built-in fungicide catalogue.
func DefaultProducts() []models.Product {
	return []models.Product{
		{ID: "bouillie_bordelaise", Name: "Bouillie bordelaise", PersistenceDays: 10, LeachingThresholdMM: 30, Class: models.ClassContact, ReferenceDoseKgHa: 2.0, Registration: "2010486"},
		{ID: "cymoxanil", Name: "Cymoxanil", PersistenceDays: 7, LeachingThresholdMM: 20, Class: models.ClassPenetrant, ReferenceDoseKgHa: 0.5, Registration: "9500057"},
		{ID: "fosetyl_al", Name: "Fosétyl-Al", PersistenceDays: 14, LeachingThresholdMM: 40, Class: models.ClassSystemic, ReferenceDoseKgHa: 2.5, Registration: "2110118"},
		{ID: "mancozebe", Name: "Mancozèbe", PersistenceDays: 7, LeachingThresholdMM: 25, Class: models.ClassContact, ReferenceDoseKgHa: 1.6, Registration: "8000494"},
		{ID: "soufre", Name: "Soufre", PersistenceDays: 8, LeachingThresholdMM: 15, Class: models.ClassContact, ReferenceDoseKgHa: 3.0, Registration: "2080066"},
	}
}

// Catalog indexes products by ID.
type Catalog struct {
	products map[string]models.Product
}

func NewCatalog(products []models.Product) *Catalog {
	c := &Catalog{products: make(map[string]models.Product, len(products))}
	for _, p := range products {
		if p.ID == "" {
			p.ID = strings.ReplaceAll(strings.ToLower(p.Name), " ", "_")
		}
		c.products[p.ID] = p
	}
	return c
}

// Products lists the catalogue sorted by ID.
func (c *Catalog) Products() []models.Product {
	out := make([]models.Product, 0, len(c.products))
	for _, p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve looks a product up by ID, then by display name. Unknown products
// get conservative defaults so a treatment can still be logged, and the
// second result is false.
func (c *Catalog) Resolve(key string) (models.Product, bool) {
	if p, ok := c.products[key]; ok {
		return p, true
	}
	for _, p := range c.Products() {
		if p.Name == key {
			return p, true
		}
	}
	return UnknownProduct(key), false
}

// UnknownProduct returns the defaults applied to a product missing from the
// catalogue.
func UnknownProduct(name string) models.Product {
	return models.Product{
		ID:                  name,
		Name:                name,
		PersistenceDays:     7,
		LeachingThresholdMM: 25,
		Class:               models.ClassContact,
		ReferenceDoseKgHa:   1.0,
		Registration:        "N/A",
	}
}
