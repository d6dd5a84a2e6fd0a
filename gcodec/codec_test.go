package gcodec

import (
	"bytes"
	"testing"
	"time"
)

type sample struct {
	Name    string    `yaml:"name" json:"name"`
	Packets uint64    `yaml:"packets" json:"packets"`
	Start   time.Time `yaml:"start" json:"start"`
}

func TestByName(t *testing.T) {
	cases := map[string]string{"yaml": "yaml", "YML": "yaml", " json ": "json"}
	for name, want := range cases {
		c, err := ByName(name)
		if err != nil {
			t.Fatalf("ByName(%q): %v", name, err)
		}
		if c.Name() != want {
			t.Fatalf("ByName(%q) returned %s", name, c.Name())
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestCodecs(t *testing.T) {
	in := sample{Name: "run1", Packets: 3, Start: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)}
	for _, c := range []Codec{NewYAMLCodec(), NewJSONCodec()} {
		data, err := c.EncodeBytes(in)
		if err != nil {
			t.Fatalf("%s encode: %v", c.Name(), err)
		}
		var out sample
		if err := c.DecodeBytes(data, &out); err != nil {
			t.Fatalf("%s decode: %v", c.Name(), err)
		}
		if out.Name != in.Name || out.Packets != in.Packets || !out.Start.Equal(in.Start) {
			t.Fatalf("%s: got %+v want %+v", c.Name(), out, in)
		}
	}
}

func TestYAMLIndent(t *testing.T) {
	var buf bytes.Buffer
	v := map[string]map[string]int{"files": {"packets": 1}}
	if err := NewYAMLCodec().Encode(&buf, v); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if buf.String() != "files:\n  packets: 1\n" {
		t.Fatalf("unexpected yaml %q", buf.String())
	}
}

func TestJSONIndent(t *testing.T) {
	data, err := NewJSONCodec().EncodeBytes(map[string]int{"packets": 1})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data) != "{\n  \"packets\": 1\n}\n" {
		t.Fatalf("unexpected json %q", data)
	}
}
