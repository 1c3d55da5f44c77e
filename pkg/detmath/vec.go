package detmath

// Vec2 is a 2D vector. Its methods round after every product.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

func (v Vec2) Scale(s float64) Vec2 { return Vec2{float64(v.X * s), float64(v.Y * s)} }

// Dot returns v.X*o.X + v.Y*o.Y.
func (v Vec2) Dot(o Vec2) float64 {
	return float64(v.X*o.X) + float64(v.Y*o.Y)
}

func (v Vec2) Length() float64 {
	return Sqrt(v.Dot(v))
}

// Normalize returns the unit vector in the direction of v, or the zero vector if v is zero.
func (v Vec2) Normalize() Vec2 {
	l := v.Length()
	if l == 0 {
		return Vec2{}
	}
	return Vec2{v.X / l, v.Y / l}
}

// Angle returns the direction of v in radians.
func (v Vec2) Angle() float64 {
	return Atan2(v.Y, v.X)
}

// FromAngle returns the unit vector with direction a.
func FromAngle(a float64) Vec2 {
	return Vec2{Cos(a), Sin(a)}
}
