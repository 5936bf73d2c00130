package segmentation

import (
	"sort"

	"ctsegment/internal/models"
)

// neighbors6 are the face-adjacent offsets used for 3D connectivity
var neighbors6 = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

// labelComponents assigns a label 1..n to every 6-connected foreground
// region of bin. Start voxels are scanned with X slowest and Z fastest, so
// label order is the lexicographic (x, y, z) order of each component's first
// voxel. sizes[i] holds the voxel count of label i+1.
func labelComponents(bin []uint8, s models.Shape) (labels []int32, sizes []int) {
	labels = make([]int32, len(bin))
	if s.Len() == 0 {
		return labels, nil
	}

	var stack []int
	next := int32(0)
	for sx := 0; sx < s.X; sx++ {
		for sy := 0; sy < s.Y; sy++ {
			for sz := 0; sz < s.Z; sz++ {
				start := s.Index(sx, sy, sz)
				if bin[start] == 0 || labels[start] != 0 {
					continue
				}
				sizes = append(sizes, flood(bin, labels, s, start, next+1, &stack))
				next++
			}
		}
	}
	return labels, sizes
}

// flood labels the component containing start and returns its size
func flood(bin []uint8, labels []int32, s models.Shape, start int, label int32, stack *[]int) int {
	labels[start] = label
	count := 0
	*stack = append((*stack)[:0], start)
	for len(*stack) > 0 {
		idx := (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]
		count++

		x := idx % s.X
		y := (idx / s.X) % s.Y
		z := idx / (s.X * s.Y)
		for _, d := range neighbors6 {
			nx, ny, nz := x+d[0], y+d[1], z+d[2]
			if !s.Contains(nx, ny, nz) {
				continue
			}
			n := s.Index(nx, ny, nz)
			if bin[n] != 0 && labels[n] == 0 {
				labels[n] = label
				*stack = append(*stack, n)
			}
		}
	}
	return count
}

// largestLabels returns the labels of the retain largest components. Sizes are
// ordered with a stable ascending sort and the tail is taken, so equal sizes
// are resolved by label order. Fewer components than retain selects them all.
func largestLabels(sizes []int, retain int) []int32 {
	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return sizes[order[a]] < sizes[order[b]]
	})

	if retain > len(order) {
		retain = len(order)
	}
	if retain < 0 {
		retain = 0
	}

	selected := make([]int32, 0, retain)
	for _, i := range order[len(order)-retain:] {
		selected = append(selected, int32(i+1))
	}
	return selected
}

// unionOf writes 1 into a new volume wherever labels holds a selected label
func unionOf(labels []int32, selected []int32) []uint8 {
	keep := make(map[int32]bool, len(selected))
	for _, l := range selected {
		keep[l] = true
	}
	out := make([]uint8, len(labels))
	for i, l := range labels {
		if l != 0 && keep[l] {
			out[i] = 1
		}
	}
	return out
}
