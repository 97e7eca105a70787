package rules

// similarityRatio measures how alike two strings are, normalized to
// [0, 1]. It is the classic sequence-matcher ratio: 2*M/T where M is the
// number of characters in matching blocks and T is the combined length.
// Deterministic for identical inputs.
func similarityRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	b2j := make(map[rune][]int, len(rb))
	for j, ch := range rb {
		b2j[ch] = append(b2j[ch], j)
	}

	matched := 0
	var stack [][4]int
	stack = append(stack, [4]int{0, len(ra), 0, len(rb)})

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		alo, ahi, blo, bhi := frame[0], frame[1], frame[2], frame[3]

		bestI, bestJ, bestSize := longestMatch(ra, b2j, alo, ahi, blo, bhi)
		if bestSize == 0 {
			continue
		}

		matched += bestSize
		if alo < bestI && blo < bestJ {
			stack = append(stack, [4]int{alo, bestI, blo, bestJ})
		}
		if bestI+bestSize < ahi && bestJ+bestSize < bhi {
			stack = append(stack, [4]int{bestI + bestSize, ahi, bestJ + bestSize, bhi})
		}
	}

	return 2.0 * float64(matched) / float64(len(ra)+len(rb))
}

func longestMatch(ra []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) (int, int, int) {
	bestI, bestJ, bestSize := alo, blo, 0
	j2len := map[int]int{}

	for i := alo; i < ahi; i++ {
		newJ2len := map[int]int{}
		for _, j := range b2j[ra[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newJ2len[j] = k
			if k > bestSize {
				bestI, bestJ, bestSize = i-k+1, j-k+1, k
			}
		}
		j2len = newJ2len
	}

	return bestI, bestJ, bestSize
}
