package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"ctsegment/internal/models"
)

// createTestMask creates a mask where each Z slice holds z / depth
func createTestMask(shape models.Shape) *models.Mask {
	m := models.NewMask(shape)
	for z := 0; z < shape.Z; z++ {
		value := float64(z) / float64(shape.Z)
		for y := 0; y < shape.Y; y++ {
			for x := 0; x < shape.X; x++ {
				m.Set(x, y, z, value)
			}
		}
	}
	return m
}

// TestExtractSlice verifies slice dimensions and values on every plane
func TestExtractSlice(t *testing.T) {
	shape := models.Shape{X: 10, Y: 8, Z: 5}
	viewer := NewViewer(createTestMask(shape).Data, shape, 0.5, 1)

	for z := 0; z < shape.Z; z++ {
		img, err := viewer.ExtractSlice(models.Axial, z)
		if err != nil {
			t.Fatalf("Failed to extract axial slice %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != shape.X || bounds.Dy() != shape.Y {
			t.Errorf("Expected axial slice %dx%d, got %dx%d", shape.X, shape.Y, bounds.Dx(), bounds.Dy())
		}

		gray, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		want := viewer.gray(float64(z) / float64(shape.Z))
		if got := gray.Gray16At(5, 4).Y; got != want {
			t.Errorf("Axial slice %d: expected %d, got %d", z, want, got)
		}
	}

	// Sagittal slices are X by Z with Z reversed
	img, err := viewer.ExtractSlice(models.Sagittal, 3)
	if err != nil {
		t.Fatalf("Failed to extract sagittal slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != shape.X || b.Dy() != shape.Z {
		t.Errorf("Expected sagittal slice %dx%d, got %dx%d", shape.X, shape.Z, b.Dx(), b.Dy())
	}
	top := img.(*image.Gray16).Gray16At(0, 0).Y
	bottom := img.(*image.Gray16).Gray16At(0, shape.Z-1).Y
	if top <= bottom {
		t.Errorf("Expected the last Z slice at the top, got top=%d bottom=%d", top, bottom)
	}

	// Coronal slices are Y by Z
	img, err = viewer.ExtractSlice(models.Coronal, 9)
	if err != nil {
		t.Fatalf("Failed to extract coronal slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != shape.Y || b.Dy() != shape.Z {
		t.Errorf("Expected coronal slice %dx%d, got %dx%d", shape.Y, shape.Z, b.Dx(), b.Dy())
	}
}

// TestExtractSliceBounds verifies out-of-range positions are rejected
func TestExtractSliceBounds(t *testing.T) {
	shape := models.Shape{X: 4, Y: 4, Z: 2}
	viewer := NewMaskViewer(models.NewMask(shape))

	if _, err := viewer.ExtractSlice(models.Axial, -1); err == nil {
		t.Error("Expected error for negative position")
	}
	if _, err := viewer.ExtractSlice(models.Axial, 2); err == nil {
		t.Error("Expected error for axial position beyond depth")
	}
	if _, err := viewer.ExtractSlice(models.Coronal, 4); err == nil {
		t.Error("Expected error for coronal position beyond width")
	}
}

// TestWindowMapping verifies the intensity window
func TestWindowMapping(t *testing.T) {
	shape := models.Shape{X: 3, Y: 1, Z: 1}
	vol := models.NewIntensityVolume(shape)
	vol.Data[0], vol.Data[1], vol.Data[2] = -1000, 40, 1000

	viewer := NewIntensityViewer(vol, 40, 400)
	img, err := viewer.ExtractSlice(models.Axial, 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	g := img.(*image.Gray16)
	if g.Gray16At(0, 0).Y != 0 {
		t.Errorf("Expected black below the window, got %d", g.Gray16At(0, 0).Y)
	}
	if v := g.Gray16At(1, 0).Y; v < 32000 || v > 33600 {
		t.Errorf("Expected mid gray at the window center, got %d", v)
	}
	if g.Gray16At(2, 0).Y != 65535 {
		t.Errorf("Expected white above the window, got %d", g.Gray16At(2, 0).Y)
	}
}

// TestOverlaySlice verifies painted voxels keep their color
func TestOverlaySlice(t *testing.T) {
	shape := models.Shape{X: 2, Y: 2, Z: 1}
	o := models.NewOverlay(shape)
	o.Set(1, 1, 0, models.RGB{R: 255})

	img, err := OverlaySlice(o, models.Axial, 0, 127.5, 255)
	if err != nil {
		t.Fatalf("Failed to render overlay: %v", err)
	}
	r, g, b, _ := img.At(1, 1).RGBA()
	if r != 0xffff || g != 0 || b != 0 {
		t.Errorf("Expected pure red, got %d,%d,%d", r, g, b)
	}
}

// TestThresholdPreview verifies the binary preview of one slice
func TestThresholdPreview(t *testing.T) {
	shape := models.Shape{X: 4, Y: 4, Z: 2}
	vol := models.NewIntensityVolume(shape)
	for i := range vol.Data {
		vol.Data[i] = int16(i * 10)
	}

	img, err := ThresholdPreview(vol, models.Axial, 1, models.ThresholdRange{Lower: 200, Upper: 250})
	if err != nil {
		t.Fatalf("Failed to build preview: %v", err)
	}
	g := img.(*image.Gray)
	on := 0
	for _, p := range g.Pix {
		if p == 255 {
			on++
		}
	}
	// slice 1 holds 160..310, of which 200..250 are six voxels
	if on != 6 {
		t.Errorf("Expected 6 foreground pixels, got %d", on)
	}

	if _, err := ThresholdPreview(vol, models.Axial, 0, models.ThresholdRange{Lower: 5, Upper: 1}); err == nil {
		t.Error("Expected error for inverted threshold")
	}
}

// TestSaveSliceSequence verifies one file per slice is written
func TestSaveSliceSequence(t *testing.T) {
	shape := models.Shape{X: 6, Y: 5, Z: 4}
	viewer := NewMaskViewer(createTestMask(shape))
	dir := t.TempDir()

	for _, plane := range []models.Plane{models.Axial, models.Sagittal, models.Coronal} {
		planeDir := filepath.Join(dir, plane.String())
		if err := viewer.SaveSliceSequence(plane, planeDir); err != nil {
			t.Fatalf("Failed to save %s slices: %v", plane, err)
		}

		files, err := os.ReadDir(planeDir)
		if err != nil {
			t.Fatalf("Failed to read output dir: %v", err)
		}
		want := shape.Dim(plane.SliceAxis())
		if len(files) != want {
			t.Errorf("Expected %d %s slices, got %d", want, plane, len(files))
		}
		first := filepath.Join(planeDir, fmt.Sprintf("slice_%s_%03d.png", plane, 0))
		if _, err := os.Stat(first); err != nil {
			t.Errorf("Expected %s to exist: %v", first, err)
		}
	}
}
