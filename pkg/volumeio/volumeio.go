// Package volumeio reads and writes volumes as a YAML header next to a raw
// little-endian payload:
//
//	head.yaml   shape, dtype, spacing, origin, byte order, payload file
//	head.raw    X*Y*Z samples, x fastest
//
// It is the boundary between the segmentation core and whatever converts
// DICOM series or writes NRRD/NIfTI files. Spacing and origin are carried
// through untouched.
package volumeio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ctsegment/internal/models"
	"ctsegment/pkg/composite"
)

// DType names the sample type of a payload
type DType string

const (
	Int16   DType = "int16"
	Float64 DType = "float64"
	Int64   DType = "int64"
)

func (d DType) size() int {
	switch d {
	case Int16:
		return 2
	case Float64, Int64:
		return 8
	}
	return 0
}

// ErrBadHeader is returned for headers that cannot describe a payload
var ErrBadHeader = errors.New("invalid volume header")

const littleEndian = "little"

// Meta is the geometry passed through from the reader to the writer
type Meta struct {
	// Spacing is the voxel size in millimetres along X, Y and Z
	Spacing [3]float64 `yaml:"spacing,flow"`

	// Origin is the world position of voxel (0, 0, 0)
	Origin [3]float64 `yaml:"origin,flow"`
}

// DefaultMeta is unit spacing at the origin
func DefaultMeta() Meta {
	return Meta{Spacing: [3]float64{1, 1, 1}}
}

// Header is the YAML document describing a payload
type Header struct {
	Shape     [3]int `yaml:"shape,flow"`
	DType     DType  `yaml:"dtype"`
	ByteOrder string `yaml:"byteOrder"`

	// Data is the payload file name, relative to the header
	Data string `yaml:"data"`

	Meta `yaml:",inline"`
}

// VolumeShape returns the header shape as a models.Shape
func (h Header) VolumeShape() models.Shape {
	return models.Shape{X: h.Shape[0], Y: h.Shape[1], Z: h.Shape[2]}
}

func (h Header) validate() error {
	if h.Shape[0] <= 0 || h.Shape[1] <= 0 || h.Shape[2] <= 0 {
		return fmt.Errorf("%w: shape %v", ErrBadHeader, h.Shape)
	}
	if h.DType.size() == 0 {
		return fmt.Errorf("%w: dtype %q", ErrBadHeader, h.DType)
	}
	if h.ByteOrder != "" && h.ByteOrder != littleEndian {
		return fmt.Errorf("%w: byte order %q", ErrBadHeader, h.ByteOrder)
	}
	return nil
}

// payloadPath derives the default payload name from a header path
func payloadPath(headerPath string) string {
	return strings.TrimSuffix(headerPath, filepath.Ext(headerPath)) + ".raw"
}

// ReadHeader parses and validates a header file
func ReadHeader(path string) (Header, error) {
	var h Header
	data, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("error reading header: %w", err)
	}
	if err := yaml.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("error parsing header: %w", err)
	}
	if err := h.validate(); err != nil {
		return h, err
	}
	return h, nil
}

// readPayload opens the payload named by h and decodes it into dst, which
// must be a slice of the header's sample type with the right length
func readPayload(headerPath string, h Header, dst any) error {
	raw := payloadPath(headerPath)
	if h.Data != "" {
		raw = filepath.Join(filepath.Dir(headerPath), h.Data)
	}

	f, err := os.Open(raw)
	if err != nil {
		return fmt.Errorf("error opening payload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	want := int64(h.VolumeShape().Len() * h.DType.size())
	if info.Size() != want {
		return fmt.Errorf("%w: payload %s has %d bytes, header needs %d",
			models.ErrShapeMismatch, filepath.Base(raw), info.Size(), want)
	}

	if err := binary.Read(bufio.NewReader(f), binary.LittleEndian, dst); err != nil {
		return fmt.Errorf("error decoding payload: %w", err)
	}
	return nil
}

// write stores the header at path and src next to it
func write(path string, shape models.Shape, dtype DType, meta Meta, src any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}

	raw := payloadPath(path)
	h := Header{
		Shape:     [3]int{shape.X, shape.Y, shape.Z},
		DType:     dtype,
		ByteOrder: littleEndian,
		Data:      filepath.Base(raw),
		Meta:      meta,
	}
	data, err := yaml.Marshal(&h)
	if err != nil {
		return fmt.Errorf("error marshaling header: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}

	f, err := os.Create(raw)
	if err != nil {
		return fmt.Errorf("error creating payload: %w", err)
	}
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, src); err != nil {
		f.Close()
		return fmt.Errorf("error encoding payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadVolume loads an int16 intensity volume
func ReadVolume(path string) (*models.IntensityVolume, Meta, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, Meta{}, err
	}
	if h.DType != Int16 {
		return nil, Meta{}, fmt.Errorf("%w: intensity volumes must be int16, got %s", ErrBadHeader, h.DType)
	}
	vol := models.NewIntensityVolume(h.VolumeShape())
	if err := readPayload(path, h, vol.Data); err != nil {
		return nil, Meta{}, err
	}
	return vol, h.Meta, nil
}

// WriteVolume stores an intensity volume
func WriteVolume(path string, vol *models.IntensityVolume, meta Meta) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	return write(path, vol.Shape, Int16, meta, vol.Data)
}

// ReadMask loads a mask. Float64 payloads are read as is; integer payloads
// (binary masks exported by other tools) are converted sample by sample.
func ReadMask(path string) (*models.Mask, Meta, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, Meta{}, err
	}
	shape := h.VolumeShape()
	m := models.NewMask(shape)

	switch h.DType {
	case Float64:
		err = readPayload(path, h, m.Data)
	case Int16:
		buf := make([]int16, shape.Len())
		if err = readPayload(path, h, buf); err == nil {
			for i, v := range buf {
				m.Data[i] = float64(v)
			}
		}
	case Int64:
		buf := make([]int64, shape.Len())
		if err = readPayload(path, h, buf); err == nil {
			for i, v := range buf {
				m.Data[i] = float64(v)
			}
		}
	}
	if err != nil {
		return nil, Meta{}, err
	}
	return m, h.Meta, nil
}

// WriteMask stores a mask as float64
func WriteMask(path string, m *models.Mask, meta Meta) error {
	if len(m.Data) != m.Shape.Len() {
		return fmt.Errorf("%w: %d values for shape %s", models.ErrShapeMismatch, len(m.Data), m.Shape)
	}
	return write(path, m.Shape, Float64, meta, m.Data)
}

// WriteLabels stores the combined label volume as int64
func WriteLabels(path string, l *composite.LabelVolume, meta Meta) error {
	if len(l.Data) != l.Shape.Len() {
		return fmt.Errorf("%w: %d labels for shape %s", models.ErrShapeMismatch, len(l.Data), l.Shape)
	}
	return write(path, l.Shape, Int64, meta, l.Data)
}

// ReadLabels loads a label volume written by WriteLabels
func ReadLabels(path string) (*composite.LabelVolume, Meta, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return nil, Meta{}, err
	}
	if h.DType != Int64 {
		return nil, Meta{}, fmt.Errorf("%w: labels must be int64, got %s", ErrBadHeader, h.DType)
	}
	shape := h.VolumeShape()
	l := &composite.LabelVolume{Shape: shape, Data: make([]int64, shape.Len())}
	if err := readPayload(path, h, l.Data); err != nil {
		return nil, Meta{}, err
	}
	return l, h.Meta, nil
}
