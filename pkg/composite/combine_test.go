package composite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ctsegment/internal/models"
)

func filled(shape models.Shape, fn func(x, y, z int) float64) *models.Mask {
	m := models.NewMask(shape)
	for z := 0; z < shape.Z; z++ {
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				m.Set(x, y, z, fn(x, y, z))
			}
		}
	}
	return m
}

func TestCombineScalesAndAccumulates(t *testing.T) {
	ref := models.Shape{X: 4, Y: 4, Z: 3}
	a := filled(ref, func(x, y, z int) float64 {
		if x < 2 {
			return 1
		}
		return 0
	})
	b := filled(ref, func(x, y, z int) float64 {
		if x >= 1 {
			return 1
		}
		return 0
	})

	out := Combine([]*models.Mask{a, b}, ref)
	assert.Equal(t, ref, out.Shape)
	assert.Equal(t, int64(100), out.At(0, 0, 0))
	assert.Equal(t, int64(200), out.At(1, 2, 1))
	assert.Equal(t, int64(100), out.At(3, 3, 2))

	n, peak := out.Stats()
	assert.Equal(t, ref.Len(), n)
	assert.Equal(t, int64(200), peak)
}

func TestCombineTruncatesSoftValues(t *testing.T) {
	ref := models.Shape{X: 2, Y: 1, Z: 1}
	m := models.NewMask(ref)
	m.Data[0] = 0.337
	m.Data[1] = 0.004

	out := Combine([]*models.Mask{m}, ref)
	assert.Equal(t, []int64{33, 0}, out.Data)
}

func TestCombinePadsDifferentDepth(t *testing.T) {
	ref := models.Shape{X: 3, Y: 3, Z: 5}
	short := filled(models.Shape{X: 3, Y: 3, Z: 2}, func(x, y, z int) float64 { return 1 })
	tall := filled(models.Shape{X: 3, Y: 3, Z: 9}, func(x, y, z int) float64 { return 1 })

	out := Combine([]*models.Mask{short, tall}, ref)
	assert.Equal(t, ref, out.Shape)
	assert.Len(t, out.Data, ref.Len())
	// imported masks are added unscaled
	assert.Equal(t, int64(2), out.At(1, 1, 1))
	assert.Equal(t, int64(1), out.At(1, 1, 4))
}

func TestCombineCommutative(t *testing.T) {
	ref := models.Shape{X: 5, Y: 4, Z: 3}
	a := filled(ref, func(x, y, z int) float64 { return float64((x+y+z)%3) / 2 })
	b := filled(ref, func(x, y, z int) float64 { return float64(x%2) * 0.75 })
	c := filled(models.Shape{X: 5, Y: 4, Z: 1}, func(x, y, z int) float64 { return 1 })

	ab := Combine([]*models.Mask{a, b, c}, ref)
	ba := Combine([]*models.Mask{c, b, a}, ref)
	assert.Equal(t, ab.Data, ba.Data)
}

func TestCombineEmpty(t *testing.T) {
	ref := models.Shape{X: 2, Y: 2, Z: 2}
	out := Combine(nil, ref)
	assert.Equal(t, make([]int64, 8), out.Data)

	out = NewCombiner(0).Combine([]*models.Mask{nil}, ref)
	assert.Equal(t, make([]int64, 8), out.Data)
}
