package chunking

// Strategy 处理策略
type Strategy int

const (
	// Direct 单次同步处理整个输入
	Direct Strategy = iota
	// Chunked 分块后交给工作池并发处理
	Chunked
)

// String 返回策略名称
func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Chunked:
		return "chunked"
	default:
		return "unknown"
	}
}

// SelectStrategy 根据输入长度选择处理策略
// inputLength >= chunkedThreshold 时使用分块处理
func SelectStrategy(inputLength, chunkedThreshold int64) Strategy {
	if inputLength >= chunkedThreshold {
		return Chunked
	}
	return Direct
}

// ChunkCount 计算长度为length的输入按chunkSize切分后的分块数
func ChunkCount(length int64, chunkSize int) int {
	if length <= 0 || chunkSize <= 0 {
		return 0
	}
	size := int64(chunkSize)
	return int((length + size - 1) / size)
}
