package canvas

const (
	MinZoom = 0.1
	MaxZoom = 5.0
)

// Viewport is per-client pan/zoom state. It is never broadcast; every client
// owns its own transform independent of synchronization.
type Viewport struct {
	X    float64
	Y    float64
	Zoom float64
}

func NewViewport() Viewport {
	return Viewport{Zoom: 1}
}

func clampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}

func (v Viewport) Pan(dx, dy float64) Viewport {
	v.X += dx
	v.Y += dy
	return v
}

// ZoomAt applies a wheel-zoom step anchored at screen point (mx, my): the
// canvas point under the cursor stays under the cursor after the step.
//
//	newOffset = cursor - (cursor - oldOffset) * (newZoom / oldZoom)
func (v Viewport) ZoomAt(mx, my, factor float64) Viewport {
	newZoom := clampZoom(v.Zoom * factor)
	scale := newZoom / v.Zoom
	v.X = mx - (mx-v.X)*scale
	v.Y = my - (my-v.Y)*scale
	v.Zoom = newZoom
	return v
}

// ToCanvas maps a screen point into canvas space under the current transform.
func (v Viewport) ToCanvas(sx, sy float64) (float64, float64) {
	return (sx - v.X) / v.Zoom, (sy - v.Y) / v.Zoom
}

// ToScreen maps a canvas point onto the screen.
func (v Viewport) ToScreen(cx, cy float64) (float64, float64) {
	return cx*v.Zoom + v.X, cy*v.Zoom + v.Y
}
