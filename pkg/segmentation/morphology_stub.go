//go:build !gocv
// +build !gocv

package segmentation

import (
	"errors"
)

// newGoCVMorphology fails when built without the gocv tag
func newGoCVMorphology() (Morphology, error) {
	return nil, errors.New("gocv build tag is not enabled")
}
