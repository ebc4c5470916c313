package chunking

import (
	"fmt"
	"strings"
	"sync"
)

const (
	// TransformPlainText 默认转换：去除NUL字节、统一换行符并去除首尾空白
	TransformPlainText = "plaintext"
	// TransformRaw 原样转换为字符串
	TransformRaw = "raw"
)

var (
	transformsMu sync.RWMutex
	transforms   = map[string]Transform{
		TransformPlainText: PlainText,
		TransformRaw:       Raw,
	}
)

// RegisterTransform 注册命名的分块转换函数
func RegisterTransform(name string, t Transform) {
	transformsMu.Lock()
	defer transformsMu.Unlock()
	transforms[name] = t
}

// LookupTransform 根据名称获取转换函数
func LookupTransform(name string) (Transform, error) {
	if name == "" {
		name = TransformPlainText
	}

	transformsMu.RLock()
	defer transformsMu.RUnlock()
	t, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown chunk transform: %s", name)
	}
	return t, nil
}

// PlainText 将分块数据转换为文本
// 去掉NUL字节，统一换行符并去除首尾空白
// 分块边界处被切开的字符字节原样保留，由引擎在拼接后规范化
func PlainText(c Chunk) (string, error) {
	text := strings.ReplaceAll(string(c.Data), "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text), nil
}

// Raw 不做任何处理
func Raw(c Chunk) (string, error) {
	return string(c.Data), nil
}
