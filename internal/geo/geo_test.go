package geo

import (
	"math"
	"testing"

	"github.com/mkaumee/Alert.Ai/internal/incident"
	"github.com/mkaumee/Alert.Ai/internal/recipients"
)

// metersPerDegreeLat is R * pi / 180 for the sphere used by Distance.
const metersPerDegreeLat = 6371000 * math.Pi / 180

var center = incident.Location{Lat: 11.8490, Lon: 13.0568}

// offsetNorth returns a point the given number of meters north of center.
func offsetNorth(meters float64) incident.Location {
	return incident.Location{Lat: center.Lat + meters/metersPerDegreeLat, Lon: center.Lon}
}

func rec(id string, loc *incident.Location) recipients.Recipient {
	return recipients.Recipient{ID: id, Name: id, Location: loc}
}

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		a, b   incident.Location
		want   float64
		within float64
	}{
		{"same point", center, center, 0, 0.001},
		{"fifteen meters north", center, offsetNorth(15), 15, 0.01},
		{"ninety meters north", center, offsetNorth(90), 90, 0.05},
		{"1.2 km north", center, offsetNorth(1200), 1200, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.within {
				t.Errorf("Distance() = %v, want %v (±%v)", got, tt.want, tt.within)
			}
		})
	}
}

func TestDistanceSymmetric(t *testing.T) {
	t.Parallel()

	p := offsetNorth(1200)
	if d1, d2 := Distance(center, p), Distance(p, center); d1 != d2 {
		t.Errorf("Distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestNearby(t *testing.T) {
	t.Parallel()

	at0 := center
	at15 := offsetNorth(15)
	at90 := offsetNorth(90)
	at1200 := offsetNorth(1200)

	all := []recipients.Recipient{
		rec("r-far", &at1200),
		rec("r-mid", &at90),
		rec("r-near", &at15),
		rec("r-here", &at0),
		rec("r-nowhere", nil),
	}

	got := Nearby(center, all, 100)

	wantIDs := []string{"r-here", "r-near", "r-mid"}
	if len(got) != len(wantIDs) {
		t.Fatalf("Nearby() returned %d matches, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].Recipient.ID != id {
			t.Errorf("match[%d] = %q, want %q", i, got[i].Recipient.ID, id)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Meters < got[i-1].Meters {
			t.Errorf("matches not sorted by distance: %v then %v", got[i-1].Meters, got[i].Meters)
		}
	}
}

func TestNearbyBoundaryInclusive(t *testing.T) {
	t.Parallel()

	p := offsetNorth(100)
	d := Distance(center, p)

	got := Nearby(center, []recipients.Recipient{rec("edge", &p)}, d)
	if len(got) != 1 {
		t.Fatalf("recipient exactly at the radius must match, got %d matches", len(got))
	}
}

func TestNearbyTiebreakByID(t *testing.T) {
	t.Parallel()

	p := offsetNorth(50)
	q := p // identical location, identical distance
	got := Nearby(center, []recipients.Recipient{rec("b", &q), rec("a", &p)}, 100)
	if len(got) != 2 || got[0].Recipient.ID != "a" || got[1].Recipient.ID != "b" {
		t.Fatalf("equal distances must order by recipient ID, got %+v", got)
	}
}

func TestNearbyEmpty(t *testing.T) {
	t.Parallel()

	if got := Nearby(center, nil, 100); len(got) != 0 {
		t.Errorf("Nearby() with no recipients = %v, want empty", got)
	}
}
