// CLAUDE:SUMMARY Fixed-font glyph recognition for image CAPTCHAs: binarize, segment, match 3x5 ink grids.
package captcha

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/hazyhaar/greffe/court"
)

// The portal's image CAPTCHA is a fixed-width numeric code in a fixed font
// with light speckle noise — no warping, no rotation. That makes template
// matching over a coarse ink grid sufficient: binarize, trim, cut into
// equal-width glyph cells, reduce each glyph to a 3x5 occupancy grid, and
// pick the nearest digit template by Hamming similarity.

const (
	gridW = 3
	gridH = 5

	// minInk/maxInk bound the plausible ink coverage of the trimmed
	// artifact. Outside this range the image is blank or inverted —
	// not the known challenge style.
	minInk = 0.05
	maxInk = 0.70
)

// glyphMasks are 3x5 occupancy templates for the portal's digit font,
// row-major, top to bottom.
var glyphMasks = map[byte][gridH * gridW]uint8{
	'0': {
		1, 1, 1,
		1, 0, 1,
		1, 0, 1,
		1, 0, 1,
		1, 1, 1,
	},
	'1': {
		0, 1, 0,
		1, 1, 0,
		0, 1, 0,
		0, 1, 0,
		1, 1, 1,
	},
	'2': {
		1, 1, 1,
		0, 0, 1,
		1, 1, 1,
		1, 0, 0,
		1, 1, 1,
	},
	'3': {
		1, 1, 1,
		0, 0, 1,
		0, 1, 1,
		0, 0, 1,
		1, 1, 1,
	},
	'4': {
		1, 0, 1,
		1, 0, 1,
		1, 1, 1,
		0, 0, 1,
		0, 0, 1,
	},
	'5': {
		1, 1, 1,
		1, 0, 0,
		1, 1, 1,
		0, 0, 1,
		1, 1, 1,
	},
	'6': {
		1, 1, 1,
		1, 0, 0,
		1, 1, 1,
		1, 0, 1,
		1, 1, 1,
	},
	'7': {
		1, 1, 1,
		0, 0, 1,
		0, 1, 0,
		0, 1, 0,
		0, 1, 0,
	},
	'8': {
		1, 1, 1,
		1, 0, 1,
		1, 1, 1,
		1, 0, 1,
		1, 1, 1,
	},
	'9': {
		1, 1, 1,
		1, 0, 1,
		1, 1, 1,
		0, 0, 1,
		1, 1, 1,
	},
}

// recognize decodes an image artifact and returns the recovered code with a
// confidence in [0,1]. The code is always the best match per glyph; low
// confidence is reported, not treated as failure.
func recognize(data []byte, codeLength int) (string, float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("%w: decode image: %v", court.ErrUnrecognizedChallenge, err)
	}

	ink := binarize(img)
	box, ok := inkBounds(ink)
	if !ok {
		return "", 0, fmt.Errorf("%w: blank artifact", court.ErrUnrecognizedChallenge)
	}

	if cov := coverage(ink, box); cov < minInk || cov > maxInk {
		return "", 0, fmt.Errorf("%w: ink coverage %.2f outside known style", court.ErrUnrecognizedChallenge, cov)
	}
	if box.Dx() < codeLength*gridW || box.Dy() < gridH {
		return "", 0, fmt.Errorf("%w: artifact %dx%d too small for %d glyphs",
			court.ErrUnrecognizedChallenge, box.Dx(), box.Dy(), codeLength)
	}

	code := make([]byte, 0, codeLength)
	var total float64

	for i := 0; i < codeLength; i++ {
		x0 := box.Min.X + i*box.Dx()/codeLength
		x1 := box.Min.X + (i+1)*box.Dx()/codeLength
		cell := image.Rect(x0, box.Min.Y, x1, box.Max.Y)

		digit, score := matchGlyph(ink, cell)
		code = append(code, digit)
		total += score
	}

	return string(code), total / float64(codeLength), nil
}

// binarize converts the image to an ink matrix using the midpoint of the
// observed luma range as threshold. The fixed font is high-contrast, so a
// global threshold holds up against the portal's light noise.
func binarize(img image.Image) [][]bool {
	b := img.Bounds()
	minL, maxL := uint32(1<<16-1), uint32(0)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			l := luma(img.At(x, y).RGBA())
			if l < minL {
				minL = l
			}
			if l > maxL {
				maxL = l
			}
		}
	}
	threshold := (minL + maxL) / 2

	ink := make([][]bool, b.Dy())
	for y := range ink {
		row := make([]bool, b.Dx())
		for x := range row {
			row[x] = luma(img.At(b.Min.X+x, b.Min.Y+y).RGBA()) < threshold
		}
		ink[y] = row
	}
	return ink
}

func luma(r, g, b, _ uint32) uint32 {
	return (299*r + 587*g + 114*b) / 1000
}

// inkBounds returns the bounding box of all ink pixels.
func inkBounds(ink [][]bool) (image.Rectangle, bool) {
	minX, minY := -1, -1
	maxX, maxY := 0, 0
	for y, row := range ink {
		for x, on := range row {
			if !on {
				continue
			}
			if minX == -1 || x < minX {
				minX = x
			}
			if minY == -1 {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			maxY = y
		}
	}
	if minX == -1 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

func coverage(ink [][]bool, box image.Rectangle) float64 {
	n := 0
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			if ink[y][x] {
				n++
			}
		}
	}
	return float64(n) / float64(box.Dx()*box.Dy())
}

// matchGlyph reduces the cell's ink to a 3x5 occupancy grid and returns the
// best-matching digit with its Hamming similarity.
func matchGlyph(ink [][]bool, cell image.Rectangle) (byte, float64) {
	// Trim to the glyph's own ink bounds so inter-glyph spacing does not
	// dilute the grid.
	sub, ok := inkBoundsIn(ink, cell)
	if !ok {
		return '0', 0
	}

	grid := occupancy(ink, sub)

	best, bestScore := byte('0'), -1.0
	for digit, mask := range glyphMasks {
		score := similarity(grid, mask)
		if score > bestScore {
			best, bestScore = digit, score
		}
	}
	return best, bestScore
}

func inkBoundsIn(ink [][]bool, cell image.Rectangle) (image.Rectangle, bool) {
	minX, minY := -1, -1
	maxX, maxY := 0, 0
	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		for x := cell.Min.X; x < cell.Max.X; x++ {
			if !ink[y][x] {
				continue
			}
			if minX == -1 || x < minX {
				minX = x
			}
			if minY == -1 {
				minY = y
			}
			if x > maxX {
				maxX = x
			}
			maxY = y
		}
	}
	if minX == -1 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// occupancy maps the glyph's ink onto a 3x5 grid: a grid cell is occupied
// when enough of its pixels carry ink.
func occupancy(ink [][]bool, box image.Rectangle) [gridH * gridW]uint8 {
	var grid [gridH * gridW]uint8
	for gy := 0; gy < gridH; gy++ {
		for gx := 0; gx < gridW; gx++ {
			y0 := box.Min.Y + gy*box.Dy()/gridH
			y1 := box.Min.Y + (gy+1)*box.Dy()/gridH
			x0 := box.Min.X + gx*box.Dx()/gridW
			x1 := box.Min.X + (gx+1)*box.Dx()/gridW
			if y1 == y0 {
				y1 = y0 + 1
			}
			if x1 == x0 {
				x1 = x0 + 1
			}

			n := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					if ink[y][x] {
						n++
					}
				}
			}
			if float64(n)/float64((y1-y0)*(x1-x0)) > 0.35 {
				grid[gy*gridW+gx] = 1
			}
		}
	}
	return grid
}

func similarity(a, b [gridH * gridW]uint8) float64 {
	match := 0
	for i := range a {
		if a[i] == b[i] {
			match++
		}
	}
	return float64(match) / float64(len(a))
}
