// Package catalog holds the diagnostic test catalog: a compiled-in set
// of common lab and imaging orders, optionally extended or overridden
// by a user TOML file. The catalog is reference data for pickers and
// search; the documentation core never validates orders against it.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// TestDefinition describes one orderable diagnostic test. Codes are
// normalized to upper case.
type TestDefinition struct {
	Code     string `toml:"code" json:"code"`
	Name     string `toml:"name" json:"name"`
	Category string `toml:"category" json:"category"`
	Specimen string `toml:"specimen" json:"specimen,omitempty"`
	Units    string `toml:"units" json:"units,omitempty"`
	RefRange string `toml:"ref_range" json:"refRange,omitempty"`
}

// Catalog is an immutable set of test definitions keyed by code.
type Catalog struct {
	defs   []TestDefinition
	byCode map[string]int
}

// Default returns the compiled-in catalog of common tests.
func Default() *Catalog {
	return build(defaultTests)
}

// Load returns the default catalog merged with the user file at path.
// User entries win on code collisions. A missing file leaves the
// defaults untouched; an unreadable or invalid file is an error.
func Load(path string) (*Catalog, error) {
	defs := make([]TestDefinition, len(defaultTests))
	copy(defs, defaultTests)

	if path != "" {
		user, err := LoadFile(path)
		if err != nil {
			// Only return error if file exists but is invalid
			if !os.IsNotExist(err) {
				return nil, err
			}
		} else {
			defs = append(defs, user...)
		}
	}

	return build(defs), nil
}

// LoadFile parses a catalog TOML file. Missing files surface the
// underlying os.IsNotExist error so callers can choose to skip them.
func LoadFile(path string) ([]TestDefinition, error) {
	var file struct {
		Tests []TestDefinition `toml:"tests"`
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err // os.IsNotExist can identify this
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}

	for i, def := range file.Tests {
		if strings.TrimSpace(def.Code) == "" {
			return nil, fmt.Errorf("catalog entry %d in %s is missing a code", i+1, path)
		}
		if strings.TrimSpace(def.Name) == "" {
			return nil, fmt.Errorf("catalog entry %q in %s is missing a name", def.Code, path)
		}
	}

	return file.Tests, nil
}

// build indexes definitions by code, later entries replacing earlier
// ones so user files override the defaults.
func build(defs []TestDefinition) *Catalog {
	c := &Catalog{byCode: make(map[string]int, len(defs))}
	for _, def := range defs {
		def.Code = strings.ToUpper(strings.TrimSpace(def.Code))
		if i, ok := c.byCode[def.Code]; ok {
			c.defs[i] = def
			continue
		}
		c.byCode[def.Code] = len(c.defs)
		c.defs = append(c.defs, def)
	}
	sort.Slice(c.defs, func(i, j int) bool { return c.defs[i].Code < c.defs[j].Code })
	for i, def := range c.defs {
		c.byCode[def.Code] = i
	}
	return c
}

// Find looks a test up by code, case-insensitively.
func (c *Catalog) Find(code string) (TestDefinition, bool) {
	i, ok := c.byCode[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return TestDefinition{}, false
	}
	return c.defs[i], true
}

// ByCategory returns every test in the category, sorted by code.
func (c *Catalog) ByCategory(category string) []TestDefinition {
	var out []TestDefinition
	for _, def := range c.defs {
		if strings.EqualFold(def.Category, category) {
			out = append(out, def)
		}
	}
	return out
}

// Search returns tests whose code or name contains query,
// case-insensitively, sorted by code. An empty query matches nothing.
func (c *Catalog) Search(query string) []TestDefinition {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var out []TestDefinition
	for _, def := range c.defs {
		if strings.Contains(strings.ToLower(def.Code), query) ||
			strings.Contains(strings.ToLower(def.Name), query) {
			out = append(out, def)
		}
	}
	return out
}

// Categories returns the distinct category names, sorted.
func (c *Catalog) Categories() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, def := range c.defs {
		if _, ok := seen[def.Category]; ok {
			continue
		}
		seen[def.Category] = struct{}{}
		out = append(out, def.Category)
	}
	sort.Strings(out)
	return out
}

// All returns every definition, sorted by code.
func (c *Catalog) All() []TestDefinition {
	out := make([]TestDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len reports the number of definitions.
func (c *Catalog) Len() int {
	return len(c.defs)
}

// defaultTests is the compiled-in catalog. Kept small and common; site
// specific orders belong in the user catalog file.
var defaultTests = []TestDefinition{
	{Code: "CBC", Name: "Complete Blood Count", Category: "Hematology", Specimen: "Whole blood (EDTA)"},
	{Code: "ESR", Name: "Erythrocyte Sedimentation Rate", Category: "Hematology", Specimen: "Whole blood (EDTA)", Units: "mm/hr", RefRange: "0-20"},
	{Code: "PTINR", Name: "Prothrombin Time / INR", Category: "Hematology", Specimen: "Plasma (citrate)", RefRange: "INR 0.8-1.2"},
	{Code: "BMP", Name: "Basic Metabolic Panel", Category: "Chemistry", Specimen: "Serum"},
	{Code: "CMP", Name: "Comprehensive Metabolic Panel", Category: "Chemistry", Specimen: "Serum"},
	{Code: "GLUF", Name: "Glucose, Fasting", Category: "Chemistry", Specimen: "Serum", Units: "mg/dL", RefRange: "70-99"},
	{Code: "HBA1C", Name: "Hemoglobin A1c", Category: "Chemistry", Specimen: "Whole blood (EDTA)", Units: "%", RefRange: "4.0-5.6"},
	{Code: "LIPID", Name: "Lipid Panel", Category: "Chemistry", Specimen: "Serum"},
	{Code: "CRP", Name: "C-Reactive Protein", Category: "Chemistry", Specimen: "Serum", Units: "mg/L", RefRange: "<5"},
	{Code: "TSH", Name: "Thyroid Stimulating Hormone", Category: "Endocrinology", Specimen: "Serum", Units: "mIU/L", RefRange: "0.4-4.0"},
	{Code: "FT4", Name: "Free Thyroxine", Category: "Endocrinology", Specimen: "Serum", Units: "ng/dL", RefRange: "0.8-1.8"},
	{Code: "VITD", Name: "Vitamin D, 25-Hydroxy", Category: "Endocrinology", Specimen: "Serum", Units: "ng/mL", RefRange: "30-100"},
	{Code: "UA", Name: "Urinalysis", Category: "Urinalysis", Specimen: "Urine"},
	{Code: "UCX", Name: "Urine Culture", Category: "Microbiology", Specimen: "Urine (midstream)"},
	{Code: "STREPA", Name: "Rapid Strep A Antigen", Category: "Microbiology", Specimen: "Throat swab"},
	{Code: "ECG", Name: "Electrocardiogram, 12-Lead", Category: "Cardiology"},
	{Code: "CXR", Name: "Chest X-Ray, PA and Lateral", Category: "Imaging"},
	{Code: "USABD", Name: "Ultrasound, Abdomen Complete", Category: "Imaging"},
}
