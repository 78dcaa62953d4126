// Package billing provides deterministic CPT code lookup for the
// suggest-billing tool and commit writer.
package billing

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed codes.yaml
var embeddedCodes []byte

// Code is one billable CPT code with its matching keywords.
type Code struct {
	CPT         string   `yaml:"cpt"`
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	Minutes     int      `yaml:"minutes,omitempty"`
}

// Table is a loaded billing-code table.
type Table struct {
	codes  []Code
	byCode map[string]Code
}

// LoadTable parses a billing-code table from YAML. Pass nil to load the
// embedded default table.
func LoadTable(data []byte) (*Table, error) {
	if data == nil {
		data = embeddedCodes
	}
	var doc struct {
		Codes []Code `yaml:"codes"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "billing: parse code table")
	}
	if len(doc.Codes) == 0 {
		return nil, eris.New("billing: empty code table")
	}

	t := &Table{codes: doc.Codes, byCode: make(map[string]Code, len(doc.Codes))}
	for _, c := range doc.Codes {
		t.byCode[c.CPT] = c
	}
	return t, nil
}

// Lookup returns codes whose keywords appear in the given service text.
func (t *Table) Lookup(serviceText string) []Code {
	lower := strings.ToLower(serviceText)
	var out []Code
	for _, c := range t.codes {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// Validate reports whether cpt is a known billable code.
func (t *Table) Validate(cpt string) bool {
	_, ok := t.byCode[cpt]
	return ok
}

// Get returns the code entry for cpt.
func (t *Table) Get(cpt string) (Code, bool) {
	c, ok := t.byCode[cpt]
	return c, ok
}
