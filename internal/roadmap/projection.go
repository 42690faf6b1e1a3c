package roadmap

import (
	"fmt"
	"math"
)

// earthRadius in thousands of km; only ratios matter after scaling
const earthRadius = 6.371

// Projection is an equirectangular lat/lon to world mapping. The box's
// bottom-left corner lands on (0,0) and its top-right on (Width,Height),
// so north is +y.
type Projection struct {
	box       GeoBox
	cosCenter float64
	left, bot float64
	xRange    float64
	yRange    float64
}

// NewProjection validates the box and precomputes the scale
func NewProjection(box GeoBox) (*Projection, error) {
	if !(box.TopLat > box.BottomLat) || !(box.RightLon > box.LeftLon) {
		return nil, fmt.Errorf("%w: geo box must have top > bottom and right > left", ErrInvalidMap)
	}
	if !(box.Width > 0) || !(box.Height > 0) {
		return nil, fmt.Errorf("%w: geo box needs a positive world size", ErrInvalidMap)
	}
	p := &Projection{
		box:       box,
		cosCenter: math.Cos((box.TopLat + box.BottomLat) / 2 * math.Pi / 180),
	}
	p.left, p.bot = p.global(box.BottomLat, box.LeftLon)
	right, top := p.global(box.TopLat, box.RightLon)
	p.xRange = right - p.left
	p.yRange = top - p.bot
	return p, nil
}

func (p *Projection) global(lat, lon float64) (float64, float64) {
	return earthRadius * lon * p.cosCenter, earthRadius * lat
}

// Project maps a lat/lon pair to world coordinates
func (p *Projection) Project(lat, lon float64) (x, y float64) {
	gx, gy := p.global(lat, lon)
	x = (gx - p.left) / p.xRange * p.box.Width
	y = (gy - p.bot) / p.yRange * p.box.Height
	return x, y
}
