package segmentation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctsegment/internal/models"
)

func countOn(k Kernel) int {
	n := 0
	for _, on := range k.On {
		if on {
			n++
		}
	}
	return n
}

func TestKernels(t *testing.T) {
	sq := SquareKernel(3)
	assert.Equal(t, 1, sq.Radius)
	assert.Equal(t, 9, countOn(sq))

	disk := DiskKernel(3)
	assert.Equal(t, 3, disk.Radius)
	assert.Equal(t, 29, countOn(disk))
	// corners of the 7x7 box are outside the disk
	assert.False(t, disk.On[0])
	assert.True(t, disk.On[3])
}

func TestOpeningRemovesSpeck(t *testing.T) {
	w, h := 7, 7
	src := make([]uint8, w*h)
	src[3*w+3] = 1

	out := opening(GoMorphology{}, src, w, h, SquareKernel(3))
	assert.Equal(t, make([]uint8, w*h), out)
}

func TestClosingFillsHole(t *testing.T) {
	w, h := 7, 7
	src := make([]uint8, w*h)
	for i := range src {
		src[i] = 1
	}
	src[3*w+3] = 0

	out := closing(GoMorphology{}, src, w, h, SquareKernel(3))
	assert.Equal(t, uint8(1), out[3*w+3])
}

func TestFullSliceIsFixedPoint(t *testing.T) {
	w, h := 9, 5
	src := make([]uint8, w*h)
	for i := range src {
		src[i] = 1
	}
	m := GoMorphology{}
	disk := DiskKernel(3)

	assert.Equal(t, src, m.Dilate(src, w, h, disk))
	assert.Equal(t, src, opening(m, src, w, h, SquareKernel(3)))
	assert.Equal(t, src, closing(m, src, w, h, SquareKernel(3)))
	assert.Equal(t, src, closing(m, src, w, h, disk))

	// the slice edge counts as background for erosion
	eroded := m.Erode(src, w, h, SquareKernel(3))
	assert.Zero(t, eroded[0])
	assert.Zero(t, eroded[4*w+8])
	assert.Equal(t, uint8(1), eroded[2*w+4])
}

func TestClosingKeepsBlockNearEdge(t *testing.T) {
	w, h := 12, 12
	src := make([]uint8, w*h)
	for y := 3; y < 7; y++ {
		for x := 1; x < 5; x++ {
			src[y*w+x] = 1
		}
	}
	m := GoMorphology{}

	assert.Equal(t, src, closing(m, src, w, h, SquareKernel(3)))
	assert.Equal(t, src, closing(m, src, w, h, DiskKernel(3)))
	assert.Equal(t, src, closing(m, opening(m, src, w, h, SquareKernel(3)), w, h, SquareKernel(3)))
}

func TestErodeShrinksSquare(t *testing.T) {
	w, h := 9, 9
	src := make([]uint8, w*h)
	for y := 2; y < 7; y++ {
		for x := 2; x < 7; x++ {
			src[y*w+x] = 1
		}
	}

	out := GoMorphology{}.Erode(src, w, h, SquareKernel(3))
	n := 0
	for _, v := range out {
		n += int(v)
	}
	assert.Equal(t, 9, n)
	assert.Equal(t, uint8(1), out[4*w+4])
}

func TestFilterSlicesIndependent(t *testing.T) {
	w, h, d := 5, 5, 3
	vol := make([]uint8, w*h*d)
	vol[1*w*h+2*w+2] = 1 // lone speck on slice 1

	err := filterSlices(context.Background(), vol, w, h, d, 3, func(s []uint8) []uint8 {
		return opening(GoMorphology{}, s, w, h, SquareKernel(3))
	})
	require.NoError(t, err)
	assert.Equal(t, make([]uint8, w*h*d), vol)
}

func TestNewMorphology(t *testing.T) {
	m, err := NewMorphology("go")
	require.NoError(t, err)
	assert.IsType(t, GoMorphology{}, m)

	_, err = NewMorphology("cuda")
	assert.Error(t, err)
}

func TestLabelComponentsSixConnectivity(t *testing.T) {
	s := models.Shape{X: 4, Y: 4, Z: 2}
	bin := make([]uint8, s.Len())
	// two voxels touching only by an edge are separate components
	bin[s.Index(0, 0, 0)] = 1
	bin[s.Index(1, 1, 0)] = 1
	// a face-connected pair across slices
	bin[s.Index(3, 3, 0)] = 1
	bin[s.Index(3, 3, 1)] = 1

	labels, sizes := labelComponents(bin, s)
	assert.Equal(t, []int{1, 1, 2}, sizes)
	assert.Equal(t, int32(1), labels[s.Index(0, 0, 0)])
	assert.Equal(t, int32(2), labels[s.Index(1, 1, 0)])
	assert.Equal(t, labels[s.Index(3, 3, 0)], labels[s.Index(3, 3, 1)])
}

func TestLabelComponentsOrderXSlowest(t *testing.T) {
	s := models.Shape{X: 6, Y: 6, Z: 3}
	bin := make([]uint8, s.Len())
	// a comes first along X but last in flat index order
	bin[s.Index(1, 5, 2)] = 1
	bin[s.Index(4, 0, 0)] = 1

	labels, _ := labelComponents(bin, s)
	assert.Equal(t, int32(1), labels[s.Index(1, 5, 2)])
	assert.Equal(t, int32(2), labels[s.Index(4, 0, 0)])
}

func TestLabelComponentsEmptyShape(t *testing.T) {
	labels, sizes := labelComponents(nil, models.Shape{X: 4, Y: 0, Z: 3})
	assert.Empty(t, labels)
	assert.Empty(t, sizes)
}

func TestLargestLabelsTieBreak(t *testing.T) {
	sizes := []int{5, 3, 5, 1}

	assert.Equal(t, []int32{1, 3}, largestLabels(sizes, 2))
	assert.Equal(t, []int32{2, 1, 3}, largestLabels(sizes, 3))
	assert.Len(t, largestLabels(sizes, 10), 4)
	assert.Empty(t, largestLabels(nil, 3))
}

func TestGaussianKeepsConstantExactly(t *testing.T) {
	s := models.Shape{X: 6, Y: 5, Z: 4}
	vol := make([]float64, s.Len())
	for i := range vol {
		vol[i] = 1
	}
	out := gaussianBlur3D(vol, s, 0.4, 4.0)
	assert.Equal(t, vol, out)
}

func TestGaussianSpreadsImpulse(t *testing.T) {
	s := models.Shape{X: 7, Y: 7, Z: 7}
	vol := make([]float64, s.Len())
	vol[s.Index(3, 3, 3)] = 1

	out := gaussianBlur3D(vol, s, 0.4, 4.0)
	var sum float64
	for _, v := range out {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Greater(t, out[s.Index(3, 3, 3)], out[s.Index(4, 3, 3)])
	assert.Greater(t, out[s.Index(4, 3, 3)], 0.0)
	assert.Zero(t, out[s.Index(6, 3, 3)])
}

func TestReflect(t *testing.T) {
	assert.Equal(t, 0, reflect(-1, 4))
	assert.Equal(t, 1, reflect(-2, 4))
	assert.Equal(t, 3, reflect(4, 4))
	assert.Equal(t, 2, reflect(5, 4))
	assert.Equal(t, 0, reflect(-2, 1))
	assert.Equal(t, 1, reflect(-3, 2))
}
