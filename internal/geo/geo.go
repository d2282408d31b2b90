// Package geo implements great-circle distance and radius matching for
// notification targeting. Pure functions, no I/O.
package geo

import (
	"math"
	"sort"

	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b incident.Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

// Match pairs a recipient with their distance from the incident.
type Match struct {
	Recipient recipients.Recipient
	Meters    float64
}

// Nearby returns the recipients within radiusMeters of center, boundary
// inclusive. Recipients without a known location are skipped. The result is
// ordered by distance ascending, recipient ID as the tiebreak, so repeated
// calls over the same inputs produce the same slice.
func Nearby(center incident.Location, all []recipients.Recipient, radiusMeters float64) []Match {
	var out []Match
	for _, r := range all {
		if r.Location == nil {
			continue
		}
		d := Distance(center, *r.Location)
		if d <= radiusMeters {
			out = append(out, Match{Recipient: r, Meters: d})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Meters != out[j].Meters {
			return out[i].Meters < out[j].Meters
		}
		return out[i].Recipient.ID < out[j].Recipient.ID
	})
	return out
}
