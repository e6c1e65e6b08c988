package reference

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupplement_Embedded(t *testing.T) {
	airports, err := Supplement()
	require.NoError(t, err)
	require.Len(t, airports, 4)

	codes := make([]string, 0, len(airports))
	for _, a := range airports {
		codes = append(codes, a.FAA)
		require.NotNil(t, a.TZ)
		assert.Equal(t, -4.0, *a.TZ)
		assert.NotEmpty(t, a.TZone)
	}
	assert.ElementsMatch(t, []string{"SJU", "STT", "BQN", "PSE"}, codes)
}

func TestParseSupplement_RejectsDuplicates(t *testing.T) {
	_, err := ParseSupplement([]byte(`
airports:
  - {faa: sju, lat: 18.4, lon: -66.0}
  - {faa: SJU, lat: 18.4, lon: -66.0}
`))
	assert.ErrorContains(t, err, "twice")
}

func TestParseSupplement_RejectsBadCoordinates(t *testing.T) {
	_, err := ParseSupplement([]byte(`
airports:
  - {faa: XXX, lat: 118.4, lon: -66.0}
`))
	assert.Error(t, err)
}

func TestLoadAirportsCSV(t *testing.T) {
	csv := `faa,name,lat,lon,alt,tz,dst,tzone
04G,Lansdowne Airport,41.1304722,-80.6195833,1044,-5,A,America/New_York
JFK,John F Kennedy Intl,40.639751,-73.778925,13,-5,A,America/New_York
ZZZ,Broken,not-a-number,-70,0,-5,A,America/New_York
,Nameless,40,-70,0,-5,A,America/New_York
JFK,Duplicate,0,0,0,0,A,UTC
HNL,Honolulu Intl,21.318681,-157.922428,13,-10,N,\N
`
	records, skipped, err := LoadAirportsCSV(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 3, skipped)
	require.Len(t, records, 3)

	jfk := records[1]
	assert.Equal(t, "JFK", jfk.FAA)
	assert.Equal(t, "John F Kennedy Intl", jfk.Name)
	assert.InDelta(t, 40.639751, jfk.Lat, 1e-9)
	assert.Equal(t, 13, jfk.Alt)
	require.NotNil(t, jfk.TZ)
	assert.Equal(t, -5.0, *jfk.TZ)
	assert.Equal(t, "America/New_York", jfk.TZone)

	hnl := records[2]
	assert.Equal(t, "", hnl.TZone, "missing-value marker is cleared")
	assert.Equal(t, "N", hnl.DST)
}

func TestLoadAirportsCSV_MinimalColumns(t *testing.T) {
	records, skipped, err := LoadAirportsCSV(strings.NewReader("faa,lat,lon\nEWR,40.6925,-74.168667\n"))
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, records, 1)
	assert.Equal(t, "A", records[0].DST)
	assert.Nil(t, records[0].TZ)
	assert.Empty(t, records[0].TZone)
}

func TestLoadAirportsCSV_MissingRequiredColumn(t *testing.T) {
	_, _, err := LoadAirportsCSV(strings.NewReader("faa,name\nJFK,Kennedy\n"))
	assert.ErrorContains(t, err, "lat")
}
