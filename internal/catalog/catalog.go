// Package catalog holds static instrument metadata: tradable contracts and
// the constituents of basket instruments such as ETFs.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"qmtbridge/internal/domain"
)

// File is the on-disk YAML layout.
type File struct {
	Contracts []domain.Contract `yaml:"contracts"`
	Baskets   []Basket          `yaml:"baskets"`
}

// Basket lists the components of one basket instrument.
type Basket struct {
	Symbol     string          `yaml:"symbol"`
	Exchange   domain.Exchange `yaml:"exchange"`
	Components []Component     `yaml:"components"`
}

// Component is one constituent of a Basket.
type Component struct {
	Symbol   string          `yaml:"symbol"`
	Exchange domain.Exchange `yaml:"exchange"`
	Share    float64         `yaml:"share"`
}

// Catalog is an immutable lookup of contracts and basket components keyed by
// instrument (e.g. "510300.SSE"). It is safe for concurrent use.
type Catalog struct {
	contracts  map[string]domain.Contract
	order      []string
	components map[string][]domain.BasketComponent
	baskets    []string
}

// Empty returns a catalog with no instruments.
func Empty() *Catalog {
	return &Catalog{
		contracts:  make(map[string]domain.Contract),
		components: make(map[string][]domain.BasketComponent),
	}
}

// Load reads a catalog from a YAML file. An empty path yields an empty
// catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse builds a catalog from YAML data.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return New(f)
}

// New validates f and builds a catalog from it.
func New(f File) (*Catalog, error) {
	c := Empty()
	for _, ct := range f.Contracts {
		if err := checkInstrument(ct.Symbol, ct.Exchange); err != nil {
			return nil, fmt.Errorf("contract: %w", err)
		}
		key := ct.VTSymbol()
		if _, dup := c.contracts[key]; dup {
			return nil, fmt.Errorf("duplicate contract %s", key)
		}
		if ct.Size == 0 {
			ct.Size = 1
		}
		c.contracts[key] = ct
		c.order = append(c.order, key)
	}
	for _, b := range f.Baskets {
		if err := checkInstrument(b.Symbol, b.Exchange); err != nil {
			return nil, fmt.Errorf("basket: %w", err)
		}
		key := domain.VTSymbol(b.Symbol, b.Exchange)
		if _, dup := c.components[key]; dup {
			return nil, fmt.Errorf("duplicate basket %s", key)
		}
		comps := make([]domain.BasketComponent, 0, len(b.Components))
		for _, bc := range b.Components {
			if err := checkInstrument(bc.Symbol, bc.Exchange); err != nil {
				return nil, fmt.Errorf("basket %s component: %w", key, err)
			}
			if bc.Share < 0 {
				return nil, fmt.Errorf("basket %s component %s: negative share %v", key, bc.Symbol, bc.Share)
			}
			comps = append(comps, domain.BasketComponent{
				Basket:   key,
				Symbol:   bc.Symbol,
				Exchange: bc.Exchange,
				Share:    bc.Share,
			})
		}
		c.components[key] = comps
		c.baskets = append(c.baskets, key)
	}
	sort.Strings(c.baskets)
	return c, nil
}

func checkInstrument(symbol string, exchange domain.Exchange) error {
	if symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if exchange != domain.ExchangeSSE && exchange != domain.ExchangeSZSE {
		return fmt.Errorf("%s: unsupported exchange %q", symbol, exchange)
	}
	return nil
}

// Contract returns the contract for an instrument key.
func (c *Catalog) Contract(vtSymbol string) (domain.Contract, bool) {
	ct, ok := c.contracts[vtSymbol]
	return ct, ok
}

// Components returns the constituents of a basket, or nil if the basket is
// unknown. The returned slice is a copy.
func (c *Catalog) Components(basketVTSymbol string) []domain.BasketComponent {
	comps, ok := c.components[basketVTSymbol]
	if !ok {
		return nil
	}
	return append([]domain.BasketComponent(nil), comps...)
}

// Contracts returns every contract in file order.
func (c *Catalog) Contracts() []domain.Contract {
	out := make([]domain.Contract, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.contracts[key])
	}
	return out
}

// AllComponents returns the components of every basket, grouped by basket in
// instrument order.
func (c *Catalog) AllComponents() []domain.BasketComponent {
	var out []domain.BasketComponent
	for _, key := range c.baskets {
		out = append(out, c.components[key]...)
	}
	return out
}
