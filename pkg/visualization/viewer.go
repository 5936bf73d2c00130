package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"ctsegment/internal/models"
)

// Viewer extracts 2D slices from a scalar volume for display or export.
// Values are mapped to gray levels through a window: level-width/2 maps to
// black and level+width/2 to white.
type Viewer struct {
	// volumeData holds one scalar per voxel in x-fastest order
	volumeData []float64

	// shape of the volume
	shape models.Shape

	// window center and width
	level float64
	width float64
}

// NewViewer creates a viewer over raw scalar data
func NewViewer(volumeData []float64, shape models.Shape, level, width float64) *Viewer {
	if width <= 0 {
		width = 1
	}
	return &Viewer{
		volumeData: volumeData,
		shape:      shape,
		level:      level,
		width:      width,
	}
}

// NewMaskViewer shows a mask with 0 as black and 1 as white
func NewMaskViewer(m *models.Mask) *Viewer {
	return NewViewer(m.Data, m.Shape, 0.5, 1)
}

// NewIntensityViewer shows an intensity volume through the given window
func NewIntensityViewer(vol *models.IntensityVolume, level, width float64) *Viewer {
	data := make([]float64, len(vol.Data))
	for i, v := range vol.Data {
		data[i] = float64(v)
	}
	return NewViewer(data, vol.Shape, level, width)
}

// sliceGeometry returns image width and height of a slice on plane, and a
// function mapping image pixel (u, v) to a volume index. Sagittal and coronal
// slices are shown with Z reversed so the head is at the top.
func sliceGeometry(s models.Shape, plane models.Plane, position int) (int, int, func(u, v int) int, error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}
	axis := plane.SliceAxis()
	if position >= s.Dim(axis) {
		return 0, 0, nil, fmt.Errorf("position %d exceeds %s extent %d", position, plane, s.Dim(axis))
	}

	switch plane {
	case models.Sagittal:
		return s.X, s.Z, func(u, v int) int { return s.Index(u, position, s.Z-1-v) }, nil
	case models.Coronal:
		return s.Y, s.Z, func(u, v int) int { return s.Index(position, u, s.Z-1-v) }, nil
	default:
		return s.X, s.Y, func(u, v int) int { return s.Index(u, v, position) }, nil
	}
}

// gray maps a value through the window onto [0, 65535]
func (v *Viewer) gray(value float64) uint16 {
	lo := v.level - v.width/2
	t := (value - lo) / v.width
	return uint16(math.Max(0, math.Min(65535, math.Round(t*65535))))
}

// ExtractSlice extracts a 2D slice from the volume on the given plane
func (v *Viewer) ExtractSlice(plane models.Plane, position int) (image.Image, error) {
	w, h, at, err := sliceGeometry(v.shape, plane, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := at(x, y)
			if idx < len(v.volumeData) {
				img.SetGray16(x, y, color.Gray16{Y: v.gray(v.volumeData[idx])})
			}
		}
	}
	return img, nil
}

// OverlaySlice renders a slice of an RGB overlay, mapping every channel
// through the same window
func OverlaySlice(o *models.Overlay, plane models.Plane, position int, level, width float64) (image.Image, error) {
	w, h, at, err := sliceGeometry(o.Shape, plane, position)
	if err != nil {
		return nil, err
	}
	v := NewViewer(nil, o.Shape, level, width)

	img := image.NewRGBA64(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 3 * at(x, y)
			img.SetRGBA64(x, y, color.RGBA64{
				R: v.gray(float64(o.Data[i])),
				G: v.gray(float64(o.Data[i+1])),
				B: v.gray(float64(o.Data[i+2])),
				A: 0xffff,
			})
		}
	}
	return img, nil
}

// ThresholdPreview renders the binary threshold of one slice of vol, the
// live preview shown before a threshold is confirmed
func ThresholdPreview(vol *models.IntensityVolume, plane models.Plane, position int, rng models.ThresholdRange) (image.Image, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	w, h, at, err := sliceGeometry(vol.Shape, plane, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if rng.Contains(float64(vol.Data[at(x, y)])) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img, nil
}

// SaveSlice saves an image as PNG
func SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the given plane
func (v *Viewer) SaveSliceSequence(plane models.Plane, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	maxPos := v.shape.Dim(plane.SliceAxis())
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(plane, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", plane, pos))
		if err := SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
