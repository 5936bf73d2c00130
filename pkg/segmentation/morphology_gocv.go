//go:build gocv
// +build gocv

package segmentation

import (
	"image/color"

	"gocv.io/x/gocv"
)

// GoCVMorphology runs erosion and dilation through OpenCV. The slice is
// padded with a constant zero border first, because OpenCV's default
// morphology border never erodes.
type GoCVMorphology struct{}

func newGoCVMorphology() (Morphology, error) {
	return GoCVMorphology{}, nil
}

// Erode implements Morphology
func (GoCVMorphology) Erode(src []uint8, w, h int, k Kernel) []uint8 {
	return cvApply(src, w, h, k, true)
}

// Dilate implements Morphology
func (GoCVMorphology) Dilate(src []uint8, w, h int, k Kernel) []uint8 {
	return cvApply(src, w, h, k, false)
}

func cvApply(src []uint8, w, h int, k Kernel, erode bool) []uint8 {
	if w == 0 || h == 0 {
		return make([]uint8, len(src))
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8U, src)
	if err != nil {
		return apply(src, w, h, k, erode)
	}
	defer mat.Close()

	kernel, err := kernelMat(k)
	if err != nil {
		return apply(src, w, h, k, erode)
	}
	defer kernel.Close()

	r := k.Radius
	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(mat, &padded, r, r, r, r, gocv.BorderConstant, color.RGBA{})

	dst := gocv.NewMat()
	defer dst.Close()

	if erode {
		gocv.Erode(padded, &dst, kernel)
	} else {
		gocv.Dilate(padded, &dst, kernel)
	}

	pw := w + 2*r
	full := dst.ToBytes()
	out := make([]uint8, len(src))
	for y := 0; y < h; y++ {
		copy(out[y*w:(y+1)*w], full[(y+r)*pw+r:(y+r)*pw+r+w])
	}
	return out
}

func kernelMat(k Kernel) (gocv.Mat, error) {
	n := 2*k.Radius + 1
	cells := make([]byte, n*n)
	for i, on := range k.On {
		if on {
			cells[i] = 1
		}
	}
	return gocv.NewMatFromBytes(n, n, gocv.MatTypeCV8U, cells)
}
