package segmentation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Kernel is a binary 2D structuring element of side 2*Radius+1 centered on
// its middle cell. On is stored row-major.
type Kernel struct {
	Radius int
	On     []bool
}

// SquareKernel returns a fully set square of the given side. Even sides are
// rounded up to the next odd side so the kernel stays centered.
func SquareKernel(side int) Kernel {
	r := side / 2
	n := 2*r + 1
	on := make([]bool, n*n)
	for i := range on {
		on[i] = true
	}
	return Kernel{Radius: r, On: on}
}

// DiskKernel returns the cells with dx²+dy² <= radius²
func DiskKernel(radius int) Kernel {
	n := 2*radius + 1
	on := make([]bool, n*n)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				on[(dy+radius)*n+dx+radius] = true
			}
		}
	}
	return Kernel{Radius: radius, On: on}
}

// Morphology performs binary erosion and dilation on one w×h slice stored as
// src[x + w*y]. Cells outside the slice count as background.
type Morphology interface {
	Erode(src []uint8, w, h int, k Kernel) []uint8
	Dilate(src []uint8, w, h int, k Kernel) []uint8
}

// NewMorphology returns the backend registered under name ("go" or "gocv")
func NewMorphology(name string) (Morphology, error) {
	switch name {
	case "", "go":
		return GoMorphology{}, nil
	case "gocv":
		return newGoCVMorphology()
	}
	return nil, fmt.Errorf("unknown morphology backend %q", name)
}

// GoMorphology is the pure Go backend
type GoMorphology struct{}

// Erode keeps a pixel only when every kernel neighbor is set
func (GoMorphology) Erode(src []uint8, w, h int, k Kernel) []uint8 {
	return apply(src, w, h, k, true)
}

// Dilate sets a pixel when any kernel neighbor is set
func (GoMorphology) Dilate(src []uint8, w, h int, k Kernel) []uint8 {
	return apply(src, w, h, k, false)
}

func apply(src []uint8, w, h int, k Kernel, erode bool) []uint8 {
	dst := make([]uint8, len(src))
	n := 2*k.Radius + 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			hit := erode
		scan:
			for ky := 0; ky < n; ky++ {
				yy := y + ky - k.Radius
				for kx := 0; kx < n; kx++ {
					if !k.On[ky*n+kx] {
						continue
					}
					xx := x + kx - k.Radius
					set := yy >= 0 && yy < h && xx >= 0 && xx < w && src[yy*w+xx] != 0
					if set != erode {
						hit = !erode
						break scan
					}
				}
			}
			if hit {
				dst[y*w+x] = 1
			}
		}
	}
	return dst
}

// opening removes specks smaller than the kernel
func opening(m Morphology, src []uint8, w, h int, k Kernel) []uint8 {
	return m.Dilate(m.Erode(src, w, h, k), w, h, k)
}

// closing fills gaps smaller than the kernel. It runs on a copy padded with
// k.Radius background cells per side and crops back, so shapes near the
// slice edge are not pulled out to it.
func closing(m Morphology, src []uint8, w, h int, k Kernel) []uint8 {
	r := k.Radius
	pw, ph := w+2*r, h+2*r
	padded := make([]uint8, pw*ph)
	for y := 0; y < h; y++ {
		copy(padded[(y+r)*pw+r:(y+r)*pw+r+w], src[y*w:(y+1)*w])
	}

	closed := m.Erode(m.Dilate(padded, pw, ph, k), pw, ph, k)

	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		copy(out[y*w:(y+1)*w], closed[(y+r)*pw+r:(y+r)*pw+r+w])
	}
	return out
}

// forEachSlice runs fn for every z in [0, depth), at most workers at a time.
// Every call must only touch its own slice.
func forEachSlice(ctx context.Context, depth, workers int, fn func(z int)) error {
	if workers < 1 {
		workers = 1
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for z := 0; z < depth; z++ {
		z := z
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			fn(z)
			return nil
		})
	}
	return g.Wait()
}

// filterSlices applies op to every XY slice of vol (w×h×depth) in place
func filterSlices(ctx context.Context, vol []uint8, w, h, depth, workers int, op func([]uint8) []uint8) error {
	plane := w * h
	if plane == 0 || depth == 0 {
		return nil
	}
	return forEachSlice(ctx, depth, workers, func(z int) {
		slice := vol[z*plane : (z+1)*plane]
		copy(slice, op(slice))
	})
}
