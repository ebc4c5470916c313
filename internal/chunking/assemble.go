package chunking

import (
	"sort"
	"strings"
)

// Assemble 按索引顺序拼接文本
// sizeHint为预估的输出长度，仅用于预分配
func Assemble(texts []string, sizeHint int) string {
	if len(texts) == 0 {
		return ""
	}

	if sizeHint <= 0 {
		for _, t := range texts {
			sizeHint += len(t)
		}
	}

	var b strings.Builder
	b.Grow(sizeHint)
	for _, t := range texts {
		b.WriteString(t)
	}
	return b.String()
}

// AssembleMap 按索引升序拼接以索引为键的结果
// 结果的到达顺序不影响输出
func AssembleMap(results map[int]string) string {
	if len(results) == 0 {
		return ""
	}

	indices := make([]int, 0, len(results))
	for i := range results {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	texts := make([]string, len(indices))
	for i, idx := range indices {
		texts[i] = results[idx]
	}
	return Assemble(texts, 0)
}
