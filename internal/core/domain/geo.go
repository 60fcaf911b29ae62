package domain

// Bounds is an axis-aligned box in integer degrees. Both edges are inclusive.
type Bounds struct {
	MinLat int `json:"min_lat"`
	MaxLat int `json:"max_lat"`
	MinLon int `json:"min_lon"`
	MaxLon int `json:"max_lon"`
}

// MaxRadius is the largest useful radius in degrees. A box this wide around
// any valid coordinate covers the whole globe.
const MaxRadius = 360

// BoundsAround returns the box [lat-radius, lat+radius] x [lon-radius, lon+radius].
// It is a plain range filter, not a geodesic radius. The radius is taken as
// its magnitude and capped at MaxRadius.
func BoundsAround(lat, lon, radius int) Bounds {
	if radius < -MaxRadius || radius > MaxRadius {
		radius = MaxRadius
	}
	if radius < 0 {
		radius = -radius
	}
	return Bounds{
		MinLat: lat - radius,
		MaxLat: lat + radius,
		MinLon: lon - radius,
		MaxLon: lon + radius,
	}
}

// Contains reports whether the coordinate lies inside the box.
func (b Bounds) Contains(lat, lon int) bool {
	return lat >= b.MinLat && lat <= b.MaxLat &&
		lon >= b.MinLon && lon <= b.MaxLon
}
