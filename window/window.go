// Package window generates tile rectangles covering a raster grid.
//
// Windows are used for bounded-memory raster I/O: a large raster is read and
// written one tile at a time instead of as a whole.
package window

import (
	"fmt"
	"iter"
	"slices"
)

// Default tile sizes in pixels.
const (
	DefaultSize = 256
	StackSize   = 1024
)

// Window is a rectangular pixel region of a raster.
type Window struct {
	ColOff int // X offset of the upper-left pixel
	RowOff int // Y offset of the upper-left pixel
	Width  int
	Height int
}

// Offset shifts the coordinates of generated windows without changing the
// tiling arithmetic.
type Offset struct {
	X int
	Y int
}

// Area returns the number of pixels in the window.
func (w Window) Area() int {
	return w.Width * w.Height
}

// Shift returns the window translated by dx, dy.
func (w Window) Shift(dx, dy int) Window {
	w.ColOff += dx
	w.RowOff += dy
	return w
}

// Overlaps reports whether two windows share at least one pixel.
func (w Window) Overlaps(o Window) bool {
	return w.ColOff < o.ColOff+o.Width && o.ColOff < w.ColOff+w.Width &&
		w.RowOff < o.RowOff+o.Height && o.RowOff < w.RowOff+w.Height
}

func (w Window) String() string {
	return fmt.Sprintf("Window(col=%d, row=%d, w=%d, h=%d)", w.ColOff, w.RowOff, w.Width, w.Height)
}

// Tiles returns the row-major sequence of windows covering a width×height
// grid with square tiles of the given size. Tiles in the last row and column
// are clipped to the grid rather than padded. The offset is added to every
// emitted window and plays no part in clipping.
//
// A non-positive width, height or size yields an empty sequence. The
// sequence is lazy and may be iterated any number of times.
func Tiles(width, height, size int, off Offset) iter.Seq[Window] {
	return func(yield func(Window) bool) {
		if width <= 0 || height <= 0 || size <= 0 {
			return
		}
		for row := 0; row < height; row += size {
			h := min(size, height-row)
			for col := 0; col < width; col += size {
				w := min(size, width-col)
				if !yield(Window{ColOff: col + off.X, RowOff: row + off.Y, Width: w, Height: h}) {
					return
				}
			}
		}
	}
}

// Count returns the number of windows Tiles produces for the same arguments.
func Count(width, height, size int) int {
	if width <= 0 || height <= 0 || size <= 0 {
		return 0
	}
	return ceilDiv(width, size) * ceilDiv(height, size)
}

// Collect materializes a window sequence.
func Collect(seq iter.Seq[Window]) []Window {
	return slices.Collect(seq)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
