package gcodec

import (
	"bytes"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLIndent 为输出的缩进宽度
const YAMLIndent = 2

type YAMLCodec struct{}

func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

func (y *YAMLCodec) Name() string { return "yaml" }

func (y *YAMLCodec) Encode(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(YAMLIndent)
	if err := enc.Encode(v); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Decode 只读取第一个文档，空输入返回 io.EOF。
func (y *YAMLCodec) Decode(r io.Reader, v interface{}) error {
	return yaml.NewDecoder(r).Decode(v)
}

func (y *YAMLCodec) EncodeBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := y.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (y *YAMLCodec) DecodeBytes(data []byte, v interface{}) error {
	return y.Decode(bytes.NewReader(data), v)
}
