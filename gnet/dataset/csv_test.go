package dataset

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofiworker/udpreplay/gerr"
)

func writeTable(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readAllCSV(t *testing.T, r *CSVReader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, rec)
	}
}

func TestParseColumn(t *testing.T) {
	cases := []struct {
		decl    string
		kind    ColumnKind
		size    int
		def     bool
		wantErr bool
	}{
		{decl: "i32", kind: ColumnI32, size: 4},
		{decl: " u64 ", kind: ColumnU64, size: 8},
		{decl: "f32=1.5", kind: ColumnF32, size: 4, def: true},
		{decl: "hex_4", kind: ColumnHex, size: 4},
		{decl: "hex", kind: ColumnHex, size: 1},
		{decl: "hex=0xBEEF01", kind: ColumnHex, size: 3, def: true},
		{decl: "bool=rand()", kind: ColumnBool, size: 1, def: true},
		{decl: "i8=loop(-1,0,1)", kind: ColumnI8, size: 1, def: true},
		{decl: "hex_2=rand(0x0000,0xFFFF)", kind: ColumnHex, size: 2, def: true},
		{decl: "str", wantErr: true},
		{decl: "hex_0", wantErr: true},
		{decl: "hex_x", wantErr: true},
		{decl: "u8=rand(1,300)", wantErr: true},
		{decl: "u16=rand(9,1)", wantErr: true},
		{decl: "i32=rand(1)", wantErr: true},
		{decl: "i32=rand(1,2", wantErr: true},
		{decl: "i32=loop(1)", wantErr: true},
		{decl: "i32=loop(1,x)", wantErr: true},
		{decl: "bool=rand(1)", wantErr: true},
		{decl: "hex_1=rand(0x00,0x1FF)", wantErr: true},
		{decl: "hex_9=rand(0x00,0x01)", wantErr: true},
		{decl: "u8=256", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.decl, func(t *testing.T) {
			col, err := ParseColumn("c", c.decl)
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.kind, col.Kind)
			assert.Equal(t, c.size, col.Size)
			assert.Equal(t, c.def, col.HasDefault())
		})
	}
}

func TestColumnEncode(t *testing.T) {
	enc := func(decl, cell string) ([]byte, error) {
		col, err := ParseColumn("c", decl)
		require.NoError(t, err)
		return col.Encode(cell)
	}

	b, err := enc("i16", "-2")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xfe, 0xff}, b)

	b, err = enc("u32", " 258 ")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x00, 0x00}, b)

	b, err = enc("f32", "1.5")
	require.NoError(t, err)
	assert.Equal(t, math.Float32bits(1.5), binary.LittleEndian.Uint32(b))

	b, err = enc("f64", "-0.25")
	require.NoError(t, err)
	assert.Equal(t, math.Float64bits(-0.25), binary.LittleEndian.Uint64(b))

	b, err = enc("bool", "YES")
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, b)

	b, err = enc("hex_2", "0x1234")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x12, 0x34}, b)

	b, err = enc("hex_2", "234")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x34}, b)

	_, err = enc("hex_2", "F")
	assert.Error(t, err)
	_, err = enc("i8", "200")
	assert.Error(t, err)
	_, err = enc("bool", "maybe")
	assert.Error(t, err)
	_, err = enc("u16", "-1")
	assert.Error(t, err)
}

const sampleTable = `seq,flag,level,tag
"u32=loop(1,2,3)",bool=rand(),"u16=rand(10,20)",hex_2=0xBEEF
7,,,
,true,,0x0001
,,15,
`

func TestOpenCSV(t *testing.T) {
	path := writeTable(t, sampleTable)
	r, err := OpenCSV(path, 10*time.Millisecond, WithCSVStart(base), WithCSVSeed(1))
	require.NoError(t, err)
	defer r.Close()

	info := r.Info()
	assert.Equal(t, "table", info.Name)
	assert.Equal(t, CSVLinkType, info.LinkType)
	assert.Equal(t, uint64(3), info.PacketCount)
	assert.Equal(t, uint64(27), info.TotalBytes)
	assert.Equal(t, 20*time.Millisecond, info.Span())
	assert.Len(t, r.Columns(), 4)

	recs := readAllCSV(t, r)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		require.Len(t, rec.Data, 9, "row %d", i)
		assert.Equal(t, base.Add(time.Duration(i)*10*time.Millisecond), rec.Timestamp)
		assert.LessOrEqual(t, rec.Data[4], byte(1), "bool column row %d", i)
	}

	// 单元格优先，空单元格按 loop 行号取值
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(recs[0].Data[0:4]))
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(recs[1].Data[0:4]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(recs[2].Data[0:4]))

	assert.Equal(t, byte(1), recs[1].Data[4])

	for i := 0; i < 2; i++ {
		level := binary.LittleEndian.Uint16(recs[i].Data[5:7])
		assert.GreaterOrEqual(t, level, uint16(10))
		assert.LessOrEqual(t, level, uint16(20))
	}
	assert.Equal(t, uint16(15), binary.LittleEndian.Uint16(recs[2].Data[5:7]))

	assert.Equal(t, []byte{0xBE, 0xEF}, recs[0].Data[7:9])
	assert.Equal(t, []byte{0x00, 0x01}, recs[1].Data[7:9])
}

func TestCSVSeedIsDeterministic(t *testing.T) {
	path := writeTable(t, sampleTable)
	open := func() []Record {
		r, err := OpenCSV(path, time.Millisecond, WithCSVStart(base), WithCSVSeed(42))
		require.NoError(t, err)
		return readAllCSV(t, r)
	}
	assert.Equal(t, open(), open())
}

func TestCSVSeek(t *testing.T) {
	path := writeTable(t, sampleTable)
	r, err := OpenCSV(path, 10*time.Millisecond, WithCSVStart(base))
	require.NoError(t, err)

	require.NoError(t, r.Seek(base.Add(15*time.Millisecond)))
	rec, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, base.Add(20*time.Millisecond), rec.Timestamp)
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Zero(t, r.Skipped())
}

func TestOpenCSVErrors(t *testing.T) {
	cases := map[string]string{
		"bad cell":       "a,b\nu8,i8\n1,2\n300,1\n",
		"field count":    "a,b\nu8,i8\n1,2,3\n",
		"no type row":    "a,b\n",
		"unknown type":   "a\nstring\nx\n",
		"hex length":     "a\nhex_2\n0x01\n",
		"bad expression": "a\n\"u8=rand(5,1)\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := OpenCSV(writeTable(t, body), time.Second)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCSVFormat)
			assert.ErrorIs(t, err, gerr.ErrDataset)
		})
	}

	_, err := OpenCSV(writeTable(t, "a\nu8\n"), -time.Second)
	assert.ErrorIs(t, err, gerr.ErrConfig)

	_, err = OpenCSV(filepath.Join(t.TempDir(), "missing.csv"), time.Second)
	assert.ErrorIs(t, err, gerr.ErrDataset)
}

func TestCSVBadCellReportsLine(t *testing.T) {
	_, err := OpenCSV(writeTable(t, "a,b\nu8,i8\n1,2\n300,1\n"), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 4")
}

func TestEmptyCSVTable(t *testing.T) {
	r, err := OpenCSV(writeTable(t, "a\nu8\n"), time.Second)
	require.NoError(t, err)
	assert.Zero(t, r.Info().PacketCount)
	assert.True(t, r.Info().Start.IsZero())
	_, err = r.Next()
	assert.ErrorIs(t, err, io.EOF)
}
