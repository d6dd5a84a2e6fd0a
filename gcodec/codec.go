// Package gcodec 提供按名称选择的结构化编解码器，用于索引文件和命令行输出。
package gcodec

import (
	"fmt"
	"io"
	"strings"
)

// StreamEncoder defines the streaming encoding interface.
type StreamEncoder interface {
	Encode(w io.Writer, v interface{}) error
}

// StreamDecoder defines the streaming decoding interface.
type StreamDecoder interface {
	Decode(r io.Reader, v interface{}) error
}

// BytesEncoder defines the byte-slice encoding interface.
type BytesEncoder interface {
	EncodeBytes(v interface{}) ([]byte, error)
}

// BytesDecoder defines the byte-slice decoding interface.
type BytesDecoder interface {
	DecodeBytes(data []byte, v interface{}) error
}

// Codec 同时支持流式和字节切片编解码。
type Codec interface {
	StreamEncoder
	StreamDecoder
	BytesEncoder
	BytesDecoder
	Name() string
}

// ByName 按名称(yaml/yml/json)返回编解码器，大小写不敏感。
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	case "json":
		return NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("gcodec: unknown codec %q", name)
	}
}
