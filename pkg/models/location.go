package models

// LocationRecord is one row of the airports table.
// TZ is the UTC offset in hours, nil when unknown.
type LocationRecord struct {
	FAA   string   `json:"faa" yaml:"faa"`
	Name  string   `json:"name" yaml:"name"`
	Lat   float64  `json:"lat" yaml:"lat"`
	Lon   float64  `json:"lon" yaml:"lon"`
	Alt   int      `json:"alt" yaml:"alt"`
	TZ    *float64 `json:"tz,omitempty" yaml:"tz"`
	DST   string   `json:"dst" yaml:"dst"`
	TZone string   `json:"tzone" yaml:"tzone"`
}
