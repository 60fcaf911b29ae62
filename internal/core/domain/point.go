package domain

import (
	"time"

	"github.com/google/uuid"
)

// Point is a named location in the directory.
type Point struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Latitude  int       `json:"latitude"`
	Longitude int       `json:"longitude"`
	OpenHour  *string   `json:"open_hour"`
	CloseHour *string   `json:"close_hour"`
	IsClosed  *int      `json:"is_closed,omitempty"` // computed field, near results only
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPoint builds a point with a freshly generated ID.
func NewPoint(name string, lat, lon int, openHour, closeHour *string) *Point {
	return &Point{
		ID:        uuid.NewString(),
		Name:      name,
		Latitude:  lat,
		Longitude: lon,
		OpenHour:  openHour,
		CloseHour: closeHour,
	}
}

// HasHours reports whether both opening hours are set.
func (p *Point) HasHours() bool {
	return p.OpenHour != nil && *p.OpenHour != "" &&
		p.CloseHour != nil && *p.CloseHour != ""
}

// PointEventType names a write that happened to a point.
type PointEventType string

const (
	PointCreated PointEventType = "created"
	PointUpdated PointEventType = "updated"
	PointDeleted PointEventType = "deleted"
)

// PointEvent is published after a write commits.
type PointEvent struct {
	Type    PointEventType `json:"type"`
	PointID string         `json:"point_id"`
	Time    time.Time      `json:"time"`
}
