package canvas

import (
	"math"
	"testing"
)

const tolerance = 1e-9

func TestZoomAnchoredAtCursor(t *testing.T) {
	cases := []struct {
		name   string
		start  Viewport
		mx, my float64
		factor float64
	}{
		{"zoom in at origin", NewViewport(), 0, 0, 1.5},
		{"zoom in off-center", Viewport{X: 40, Y: -25, Zoom: 1}, 320, 180, 2},
		{"zoom out", Viewport{X: -100, Y: 60, Zoom: 2.5}, 15, 700, 0.5},
		{"tiny step", Viewport{X: 3, Y: 4, Zoom: 0.7}, 99, 1, 1.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// The canvas point under the cursor before the step...
			cx, cy := tc.start.ToCanvas(tc.mx, tc.my)
			after := tc.start.ZoomAt(tc.mx, tc.my, tc.factor)
			// ...must map back to the cursor after it.
			sx, sy := after.ToScreen(cx, cy)
			if math.Abs(sx-tc.mx) > tolerance || math.Abs(sy-tc.my) > tolerance {
				t.Errorf("anchor drifted: (%g,%g) -> (%g,%g)", tc.mx, tc.my, sx, sy)
			}
		})
	}
}

func TestZoomClamped(t *testing.T) {
	v := NewViewport()
	out := v.ZoomAt(0, 0, 1000)
	if out.Zoom != MaxZoom {
		t.Errorf("zoom = %g, want clamped to %g", out.Zoom, MaxZoom)
	}
	in := out.ZoomAt(0, 0, 1e-9)
	if in.Zoom != MinZoom {
		t.Errorf("zoom = %g, want clamped to %g", in.Zoom, MinZoom)
	}
}

func TestZoomAnchorHoldsAtClampBoundary(t *testing.T) {
	v := Viewport{X: 10, Y: 20, Zoom: 4}
	mx, my := 200.0, 150.0
	cx, cy := v.ToCanvas(mx, my)
	after := v.ZoomAt(mx, my, 10) // clamps at MaxZoom
	sx, sy := after.ToScreen(cx, cy)
	if math.Abs(sx-mx) > tolerance || math.Abs(sy-my) > tolerance {
		t.Errorf("anchor drifted under clamping: (%g,%g)", sx, sy)
	}
}

func TestPanIsLocalOnly(t *testing.T) {
	v := NewViewport().Pan(5, -7)
	if v.X != 5 || v.Y != -7 || v.Zoom != 1 {
		t.Errorf("viewport = %+v", v)
	}
}

func TestRoundTripScreenCanvas(t *testing.T) {
	v := Viewport{X: -12, Y: 33, Zoom: 0.4}
	sx, sy := 77.5, -19.25
	cx, cy := v.ToCanvas(sx, sy)
	gx, gy := v.ToScreen(cx, cy)
	if math.Abs(gx-sx) > tolerance || math.Abs(gy-sy) > tolerance {
		t.Errorf("round trip drifted: (%g,%g)", gx, gy)
	}
}
