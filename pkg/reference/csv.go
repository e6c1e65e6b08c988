package reference

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/ekaya-inc/flightclean/pkg/models"
)

var airportColumnTypes = map[string]series.Type{
	"faa":   series.String,
	"name":  series.String,
	"lat":   series.Float,
	"lon":   series.Float,
	"alt":   series.Float,
	"tz":    series.Float,
	"dst":   series.String,
	"tzone": series.String,
}

// LoadAirportsCSV reads an airports extract with a header row.
// faa, lat and lon are required columns; the others default when absent.
// Rows with an empty code or unparseable coordinates are skipped and counted.
func LoadAirportsCSV(r io.Reader) ([]models.LocationRecord, int, error) {
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.WithTypes(airportColumnTypes),
	)
	if df.Err != nil {
		return nil, 0, fmt.Errorf("failed to read airports csv: %w", df.Err)
	}

	present := make(map[string]bool)
	for _, name := range df.Names() {
		present[name] = true
	}
	for _, required := range []string{"faa", "lat", "lon"} {
		if !present[required] {
			return nil, 0, fmt.Errorf("airports csv is missing column %q", required)
		}
	}

	faa := df.Col("faa").Records()
	lat := df.Col("lat").Float()
	lon := df.Col("lon").Float()
	name := optionalStrings(df, present, "name")
	dst := optionalStrings(df, present, "dst")
	tzone := optionalStrings(df, present, "tzone")
	alt := optionalFloats(df, present, "alt")
	tz := optionalFloats(df, present, "tz")

	records := make([]models.LocationRecord, 0, df.Nrow())
	skipped := 0
	seen := make(map[string]bool, df.Nrow())
	for i := 0; i < df.Nrow(); i++ {
		code := strings.ToUpper(cleanString(faa[i]))
		if code == "" || math.IsNaN(lat[i]) || math.IsNaN(lon[i]) || seen[code] {
			skipped++
			continue
		}
		seen[code] = true

		rec := models.LocationRecord{
			FAA:   code,
			Name:  cleanString(name[i]),
			Lat:   lat[i],
			Lon:   lon[i],
			DST:   cleanString(dst[i]),
			TZone: cleanString(tzone[i]),
		}
		if rec.DST == "" {
			rec.DST = "A"
		}
		if !math.IsNaN(alt[i]) {
			rec.Alt = int(math.Round(alt[i]))
		}
		if !math.IsNaN(tz[i]) {
			v := tz[i]
			rec.TZ = &v
		}
		records = append(records, rec)
	}

	return records, skipped, nil
}

func optionalStrings(df dataframe.DataFrame, present map[string]bool, col string) []string {
	if !present[col] {
		return make([]string, df.Nrow())
	}
	return df.Col(col).Records()
}

func optionalFloats(df dataframe.DataFrame, present map[string]bool, col string) []float64 {
	if !present[col] {
		out := make([]float64, df.Nrow())
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	return df.Col(col).Float()
}

// cleanString maps the extract's missing-value markers to "".
func cleanString(v string) string {
	v = strings.TrimSpace(v)
	switch v {
	case "NaN", "NA", `\N`:
		return ""
	}
	return v
}
