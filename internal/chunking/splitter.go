package chunking

import (
	"errors"
	"io"
)

// Chunk 输入流中的一个有序分块
type Chunk struct {
	Index  int    // 分块索引，从0开始连续递增
	Data   []byte // 分块数据，独立于读取缓冲区的副本
	Length int    // 数据长度
}

// ChunkSource 分块序列
// Next在序列结束时返回io.EOF
type ChunkSource interface {
	Next() (Chunk, error)
}

// Splitter 将输入流按固定大小切分为分块
// 序列是惰性的、有限的、不可重启的
type Splitter struct {
	r         io.Reader
	chunkSize int
	buf       []byte // 复用的读取缓冲区
	next      int    // 下一个分块的索引
	offset    int64  // 已读取的字节数
	done      bool
}

// NewSplitter 创建分块器
func NewSplitter(r io.Reader, chunkSize int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	return &Splitter{
		r:         r,
		chunkSize: chunkSize,
		buf:       make([]byte, chunkSize),
	}, nil
}

// Next 读取下一个分块
// 最后一个分块可能小于chunkSize；读取失败时返回*ReadError
func (s *Splitter) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		// 零字节读取，序列结束
		s.done = true
		return Chunk{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// 流已耗尽，本次为最后一个分块
		s.done = true
	default:
		s.done = true
		return Chunk{}, &ReadError{Offset: s.offset + int64(n), Chunks: s.next, Err: err}
	}

	// 缓冲区会被下一次读取覆盖，必须复制
	data := make([]byte, n)
	copy(data, s.buf[:n])

	chunk := Chunk{
		Index:  s.next,
		Data:   data,
		Length: n,
	}
	s.next++
	s.offset += int64(n)
	return chunk, nil
}

// Offset 返回已读取的字节数
func (s *Splitter) Offset() int64 {
	return s.offset
}

// SplitAll 读取整个流并返回所有分块
// 读取失败时返回出错前已产出的分块和错误，由调用方决定是否丢弃
func SplitAll(r io.Reader, chunkSize int) ([]Chunk, error) {
	s, err := NewSplitter(r, chunkSize)
	if err != nil {
		return nil, err
	}

	var chunks []Chunk
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
}
