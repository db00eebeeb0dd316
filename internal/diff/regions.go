package diff

import "github.com/raysh454/miru/internal/model"

// analyzeRegions walks the difference mask and extracts maximal 4-connected
// components of differing pixels. Components below minPixels are discarded
// as noise. The flood fill uses an explicit stack so large regions cannot
// exhaust goroutine stacks.
func analyzeRegions(mask []bool, width, height, minPixels int) []model.Region {
	total := width * height
	if total == 0 || len(mask) < total {
		return nil
	}

	visited := make([]bool, total)
	stack := make([]int, 0, 1024)
	var regions []model.Region

	for start := 0; start < total; start++ {
		if !mask[start] || visited[start] {
			continue
		}

		// Flood one component.
		minX, minY := width, height
		maxX, maxY := 0, 0
		count := 0

		stack = append(stack[:0], start)
		visited[start] = true
		for len(stack) > 0 {
			idx := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			x, y := idx%width, idx/width
			count++
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}

			if x > 0 {
				push(&stack, mask, visited, idx-1)
			}
			if x < width-1 {
				push(&stack, mask, visited, idx+1)
			}
			if y > 0 {
				push(&stack, mask, visited, idx-width)
			}
			if y < height-1 {
				push(&stack, mask, visited, idx+width)
			}
		}

		if count < minPixels {
			continue
		}
		regions = append(regions, model.Region{
			X:            minX,
			Y:            minY,
			Width:        maxX - minX + 1,
			Height:       maxY - minY + 1,
			PixelCount:   count,
			Significance: float64(count) / float64(total),
		})
	}
	return regions
}

func push(stack *[]int, mask, visited []bool, idx int) {
	if mask[idx] && !visited[idx] {
		visited[idx] = true
		*stack = append(*stack, idx)
	}
}
