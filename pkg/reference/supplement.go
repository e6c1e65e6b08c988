// Package reference loads airport reference data: the curated supplement that is
// compiled into the binary and the airports.csv extract used for seeding.
package reference

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

//go:embed supplement.yaml
var supplementYAML []byte

type supplementFile struct {
	Airports []models.LocationRecord `yaml:"airports"`
}

// Supplement returns the curated airports that the extract is known to lack.
func Supplement() ([]models.LocationRecord, error) {
	return ParseSupplement(supplementYAML)
}

// ParseSupplement decodes a supplement document and validates each entry.
func ParseSupplement(data []byte) ([]models.LocationRecord, error) {
	var f supplementFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse airport supplement: %w", err)
	}

	seen := make(map[string]bool, len(f.Airports))
	for i := range f.Airports {
		a := &f.Airports[i]
		a.FAA = strings.ToUpper(strings.TrimSpace(a.FAA))
		if a.FAA == "" {
			return nil, fmt.Errorf("supplement entry %d has no faa code", i)
		}
		if seen[a.FAA] {
			return nil, fmt.Errorf("supplement lists %s twice", a.FAA)
		}
		seen[a.FAA] = true
		if a.Lat < -90 || a.Lat > 90 || a.Lon < -180 || a.Lon > 180 {
			return nil, fmt.Errorf("supplement entry %s has invalid coordinates (%v, %v)", a.FAA, a.Lat, a.Lon)
		}
	}
	return f.Airports, nil
}
