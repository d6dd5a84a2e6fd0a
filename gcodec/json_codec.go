package gcodec

import (
	"bytes"
	"encoding/json"
	"io"
)

// JSONCodec 输出带缩进的 JSON
type JSONCodec struct {
	Indent string
}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: "  "}
}

func (j *JSONCodec) Name() string { return "json" }

func (j *JSONCodec) Encode(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	if j.Indent != "" {
		enc.SetIndent("", j.Indent)
	}
	return enc.Encode(v)
}

func (j *JSONCodec) Decode(r io.Reader, v interface{}) error {
	return json.NewDecoder(r).Decode(v)
}

func (j *JSONCodec) EncodeBytes(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := j.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (j *JSONCodec) DecodeBytes(data []byte, v interface{}) error {
	return j.Decode(bytes.NewReader(data), v)
}
