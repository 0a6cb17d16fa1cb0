package ping

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Vec3 is a position in world space.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Length returns the length of v.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// DistanceTo returns the euclidean distance between v and o.
func (v Vec3) DistanceTo(o Vec3) float64 {
	return o.Sub(v).Length()
}

// IsFinite reports whether no coordinate is NaN or infinite.
func (v Vec3) IsFinite() bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// String returns the position as "x,y,z" with one decimal.
func (v Vec3) String() string {
	return fmt.Sprintf("%.1f,%.1f,%.1f", v.X, v.Y, v.Z)
}

// ParseVec3 parses a position in the form "x,y,z".
func ParseVec3(s string) (Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Vec3{}, fmt.Errorf("position %q: want x,y,z", s)
	}
	var xyz [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Vec3{}, fmt.Errorf("position %q: %w", s, err)
		}
		xyz[i] = f
	}
	v := Vec3{xyz[0], xyz[1], xyz[2]}
	if !v.IsFinite() {
		return Vec3{}, fmt.Errorf("position %q: %w", s, ErrInvalidPosition)
	}
	return v, nil
}
