package dataset

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/exp/rand"

	"github.com/sofiworker/udpreplay/gerr"
)

// CSV 表格数据源。
//
// 第一行为列名，第二行为列类型，其后每行生成一个数据报：各列按类型编码后依次拼接，
// 整数和浮点数为小端序，hex 列按书写顺序输出字节。
//
// 列类型可带默认值表达式，单元格为空时使用，例如:
//
//	seq,flag,temp,tag
//	"u32=loop(1,2,3)",bool=rand(),"f32=rand(-10.5,40)",hex_2=0xBEEF
//	7,,,
//	,true,21.5,0x0001
//
// 表达式含逗号时整列需要加引号。没有默认值的空单元格编码为全零。

// DefaultCSVInterval 为相邻两行之间的默认发送间隔
const DefaultCSVInterval = time.Second

// CSVLinkType 为 CSV 数据源在 Info 中的链路类型
const CSVLinkType = "csv"

var ErrCSVFormat = errors.New("dataset: malformed csv table")

// ColumnKind 列的数据类型
type ColumnKind uint8

const (
	ColumnI8 ColumnKind = iota + 1
	ColumnI16
	ColumnI32
	ColumnI64
	ColumnU8
	ColumnU16
	ColumnU32
	ColumnU64
	ColumnF32
	ColumnF64
	ColumnBool
	ColumnHex
)

var columnKinds = map[string]struct {
	kind ColumnKind
	size int
}{
	"i8":   {ColumnI8, 1},
	"i16":  {ColumnI16, 2},
	"i32":  {ColumnI32, 4},
	"i64":  {ColumnI64, 8},
	"u8":   {ColumnU8, 1},
	"u16":  {ColumnU16, 2},
	"u32":  {ColumnU32, 4},
	"u64":  {ColumnU64, 8},
	"f32":  {ColumnF32, 4},
	"f64":  {ColumnF64, 8},
	"bool": {ColumnBool, 1},
}

func (k ColumnKind) String() string {
	for name, v := range columnKinds {
		if v.kind == k {
			return name
		}
	}
	if k == ColumnHex {
		return "hex"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k ColumnKind) signed() bool   { return k >= ColumnI8 && k <= ColumnI64 }
func (k ColumnKind) unsigned() bool { return k >= ColumnU8 && k <= ColumnU64 }

// Column 是一列的定义
type Column struct {
	Name string
	Kind ColumnKind
	// Size 为编码后的字节数
	Size int

	def valueExpr
}

// HasDefault 报告该列是否带默认值表达式
func (c Column) HasDefault() bool {
	return c.def != nil
}

// ParseColumn 解析类型行中的一格，形如 "u16"、"hex_4" 或 "i32=rand(1,9)"。
func ParseColumn(name, decl string) (Column, error) {
	decl = strings.TrimSpace(decl)
	base, expr, hasExpr := strings.Cut(decl, "=")
	base = strings.TrimSpace(base)
	expr = strings.TrimSpace(expr)

	c := Column{Name: name}
	if v, ok := columnKinds[base]; ok {
		c.Kind, c.Size = v.kind, v.size
	} else if base == "hex" {
		c.Kind, c.Size = ColumnHex, 1
		// 未写长度时以字面量默认值的长度为准
		if hasExpr && !strings.HasPrefix(expr, "rand(") && !strings.HasPrefix(expr, "loop(") {
			if b, err := parseHex(expr); err == nil {
				c.Size = len(b)
			}
		}
	} else if n, ok := strings.CutPrefix(base, "hex_"); ok {
		size, err := strconv.Atoi(n)
		if err != nil || size <= 0 {
			return Column{}, fmt.Errorf("invalid hex size %q", n)
		}
		c.Kind, c.Size = ColumnHex, size
	} else {
		return Column{}, fmt.Errorf("unknown column type %q", base)
	}

	if hasExpr {
		def, err := parseExpr(c, expr)
		if err != nil {
			return Column{}, err
		}
		c.def = def
	}
	return c, nil
}

// Encode 按列类型编码一个单元格
func (c Column) Encode(cell string) ([]byte, error) {
	s := strings.TrimSpace(cell)
	b := make([]byte, c.Size)
	switch {
	case c.Kind.signed():
		v, err := strconv.ParseInt(s, 10, c.Size*8)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", c.Kind, cell)
		}
		putUint(b, uint64(v))
	case c.Kind.unsigned():
		v, err := strconv.ParseUint(s, 10, c.Size*8)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value %q", c.Kind, cell)
		}
		putUint(b, v)
	case c.Kind == ColumnF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid f32 value %q", cell)
		}
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case c.Kind == ColumnF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid f64 value %q", cell)
		}
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	case c.Kind == ColumnBool:
		v, err := parseBool(s)
		if err != nil {
			return nil, err
		}
		if v {
			b[0] = 1
		}
	case c.Kind == ColumnHex:
		v, err := parseHex(s)
		if err != nil {
			return nil, err
		}
		if len(v) != c.Size {
			return nil, fmt.Errorf("hex value %q is %d bytes, column expects %d", cell, len(v), c.Size)
		}
		b = v
	default:
		return nil, fmt.Errorf("unsupported column kind %s", c.Kind)
	}
	return b, nil
}

// value 返回第 row 行的编码值，cell 为空时使用默认值表达式
func (c Column) value(cell []byte, row int, rng *rand.Rand) []byte {
	if cell != nil {
		return cell
	}
	if c.def != nil {
		return c.def.eval(row, rng)
	}
	return make([]byte, c.Size)
}

func putUint(b []byte, v uint64) {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid bool value %q", s)
}

// parseHex 解析 "0xBEEF" 或 "BEEF"，奇数位时高位补零，空串视为一个零字节
func parseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" {
		return []byte{0}, nil
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q", s)
	}
	return b, nil
}

type valueExpr interface {
	eval(row int, rng *rand.Rand) []byte
}

type literalExpr []byte

func (e literalExpr) eval(int, *rand.Rand) []byte { return e }

// loopExpr 按行号轮流取值
type loopExpr [][]byte

func (e loopExpr) eval(row int, _ *rand.Rand) []byte { return e[row%len(e)] }

type randIntExpr struct {
	min, max int64
	size     int
}

func (e randIntExpr) eval(_ int, rng *rand.Rand) []byte {
	b := make([]byte, e.size)
	putUint(b, uint64(e.min)+randSpan(rng, uint64(e.max)-uint64(e.min)))
	return b
}

type randUintExpr struct {
	min, max uint64
	size     int
}

func (e randUintExpr) eval(_ int, rng *rand.Rand) []byte {
	b := make([]byte, e.size)
	putUint(b, e.min+randSpan(rng, e.max-e.min))
	return b
}

type randFloatExpr struct {
	min, max float64
	size     int
}

func (e randFloatExpr) eval(_ int, rng *rand.Rand) []byte {
	v := e.min + rng.Float64()*(e.max-e.min)
	b := make([]byte, e.size)
	if e.size == 4 {
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	} else {
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	}
	return b
}

type randBoolExpr struct{}

func (randBoolExpr) eval(_ int, rng *rand.Rand) []byte {
	return []byte{byte(rng.Uint64() & 1)}
}

// randSpan 返回 [0, span] 内的随机数
func randSpan(rng *rand.Rand, span uint64) uint64 {
	if span == math.MaxUint64 {
		return rng.Uint64()
	}
	return rng.Uint64n(span + 1)
}

func parseExpr(c Column, expr string) (valueExpr, error) {
	if inner, ok := strings.CutPrefix(expr, "rand("); ok {
		inner, ok = strings.CutSuffix(inner, ")")
		if !ok {
			return nil, fmt.Errorf("rand(...) missing ')'")
		}
		return parseRand(c, splitArgs(inner))
	}
	if inner, ok := strings.CutPrefix(expr, "loop("); ok {
		inner, ok = strings.CutSuffix(inner, ")")
		if !ok {
			return nil, fmt.Errorf("loop(...) missing ')'")
		}
		items := splitArgs(inner)
		if len(items) < 2 {
			return nil, fmt.Errorf("loop needs at least two values")
		}
		loop := make(loopExpr, 0, len(items))
		for _, item := range items {
			b, err := c.Encode(item)
			if err != nil {
				return nil, fmt.Errorf("loop: %w", err)
			}
			loop = append(loop, b)
		}
		return loop, nil
	}
	b, err := c.Encode(expr)
	if err != nil {
		return nil, err
	}
	return literalExpr(b), nil
}

func splitArgs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseRand(c Column, args []string) (valueExpr, error) {
	if c.Kind == ColumnBool {
		if len(args) != 0 {
			return nil, fmt.Errorf("bool rand() takes no arguments")
		}
		return randBoolExpr{}, nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("rand(min,max) needs two arguments for %s", c.Kind)
	}

	switch {
	case c.Kind.signed():
		lo, err1 := strconv.ParseInt(args[0], 10, c.Size*8)
		hi, err2 := strconv.ParseInt(args[1], 10, c.Size*8)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("rand bounds for %s: %w", c.Kind, err)
		}
		if lo > hi {
			return nil, fmt.Errorf("rand: min must not exceed max")
		}
		return randIntExpr{min: lo, max: hi, size: c.Size}, nil
	case c.Kind.unsigned():
		lo, err1 := strconv.ParseUint(args[0], 10, c.Size*8)
		hi, err2 := strconv.ParseUint(args[1], 10, c.Size*8)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("rand bounds for %s: %w", c.Kind, err)
		}
		if lo > hi {
			return nil, fmt.Errorf("rand: min must not exceed max")
		}
		return randUintExpr{min: lo, max: hi, size: c.Size}, nil
	case c.Kind == ColumnF32 || c.Kind == ColumnF64:
		lo, err1 := strconv.ParseFloat(args[0], 64)
		hi, err2 := strconv.ParseFloat(args[1], 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("rand bounds for %s: %w", c.Kind, err)
		}
		if lo > hi {
			return nil, fmt.Errorf("rand: min must not exceed max")
		}
		return randFloatExpr{min: lo, max: hi, size: c.Size}, nil
	case c.Kind == ColumnHex:
		// 随机 hex 按数值生成，以小端序写出
		if c.Size > 8 {
			return nil, fmt.Errorf("hex rand supports at most 8 bytes, column has %d", c.Size)
		}
		lo, err1 := strconv.ParseUint(trimHexPrefix(args[0]), 16, 64)
		hi, err2 := strconv.ParseUint(trimHexPrefix(args[1]), 16, 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("rand bounds for hex: %w", err)
		}
		if lo > hi {
			return nil, fmt.Errorf("rand: min must not exceed max")
		}
		if c.Size < 8 && hi >= 1<<(8*c.Size) {
			return nil, fmt.Errorf("hex rand range exceeds %d bytes", c.Size)
		}
		return randUintExpr{min: lo, max: hi, size: c.Size}, nil
	}
	return nil, fmt.Errorf("rand is not supported for %s", c.Kind)
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

type csvOptions struct {
	start time.Time
	seed  uint64
}

// CSVOption 配置 CSVReader
type CSVOption func(*csvOptions)

// WithCSVStart 设置第一行的时间戳，默认为打开时刻
func WithCSVStart(t time.Time) CSVOption {
	return func(o *csvOptions) {
		o.start = t
	}
}

// WithCSVSeed 固定随机表达式的种子
func WithCSVSeed(seed uint64) CSVOption {
	return func(o *csvOptions) {
		o.seed = seed
	}
}

// CSVReader 把 CSV 表格的每一行作为一条记录，第 i 行的时间戳为 start+i*interval。
// 所有非空单元格在打开时校验并编码。
type CSVReader struct {
	columns  []Column
	cells    [][][]byte
	interval time.Duration
	start    time.Time
	rng      *rand.Rand
	next     int
	info     Info
}

// OpenCSV 读取并校验 path 处的表格
func OpenCSV(path string, interval time.Duration, opts ...CSVOption) (*CSVReader, error) {
	const op = "dataset.open_csv"
	o := csvOptions{
		start: time.Now().UTC(),
		seed:  uint64(time.Now().UnixNano()),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if interval < 0 {
		return nil, gerr.Config(op, "interval %s must not be negative", interval)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, gerr.Dataset(op, err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, gerr.Dataset(op, err)
	}

	cr := csv.NewReader(f)
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, gerr.Dataset(op, fmt.Errorf("%w: %s: %v", ErrCSVFormat, path, err))
	}
	if len(rows) < 2 {
		return nil, gerr.Dataset(op, fmt.Errorf("%w: %s: needs a name row and a type row", ErrCSVFormat, path))
	}

	names, decls := rows[0], rows[1]
	columns := make([]Column, len(decls))
	rowSize := 0
	for i, decl := range decls {
		col, err := ParseColumn(strings.TrimSpace(names[i]), decl)
		if err != nil {
			return nil, gerr.Dataset(op, fmt.Errorf("%w: %s: column %d: %v", ErrCSVFormat, path, i+1, err))
		}
		columns[i] = col
		rowSize += col.Size
	}

	cells := make([][][]byte, 0, len(rows)-2)
	for n, row := range rows[2:] {
		encoded := make([][]byte, len(row))
		for i, cell := range row {
			if strings.TrimSpace(cell) == "" {
				continue
			}
			b, err := columns[i].Encode(cell)
			if err != nil {
				return nil, gerr.Dataset(op, fmt.Errorf("%w: %s: line %d column %q: %v", ErrCSVFormat, path, n+3, columns[i].Name, err))
			}
			encoded[i] = b
		}
		cells = append(cells, encoded)
	}

	r := &CSVReader{
		columns:  columns,
		cells:    cells,
		interval: interval,
		start:    o.start.UTC(),
		rng:      rand.New(rand.NewSource(o.seed)),
	}
	r.info = Info{
		Name:        strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:        path,
		LinkType:    CSVLinkType,
		FileCount:   1,
		PacketCount: uint64(len(cells)),
		TotalSize:   st.Size(),
		TotalBytes:  uint64(len(cells)) * uint64(rowSize),
	}
	if len(cells) > 0 {
		r.info.Start = r.timestamp(0)
		r.info.End = r.timestamp(len(cells) - 1)
	}
	return r, nil
}

// Columns 返回列定义
func (r *CSVReader) Columns() []Column {
	return r.columns
}

func (r *CSVReader) Info() Info {
	return r.info
}

// Skipped 总是 0，表格中没有需要跳过的帧
func (r *CSVReader) Skipped() uint64 {
	return 0
}

func (r *CSVReader) timestamp(row int) time.Time {
	return r.start.Add(time.Duration(row) * r.interval)
}

// Next 生成下一行的数据报，全部读完后返回 io.EOF。
func (r *CSVReader) Next() (Record, error) {
	if r.next >= len(r.cells) {
		return Record{}, io.EOF
	}
	row := r.next
	r.next++

	var data []byte
	for i, col := range r.columns {
		data = append(data, col.value(r.cells[row][i], row, r.rng)...)
	}
	return Record{Timestamp: r.timestamp(row), Data: data}, nil
}

// Seek 跳到第一条时间戳不早于 t 的行，只能向前移动。
func (r *CSVReader) Seek(t time.Time) error {
	for r.next < len(r.cells) && r.timestamp(r.next).Before(t) {
		r.next++
	}
	return nil
}

func (r *CSVReader) Close() error {
	r.next = len(r.cells)
	return nil
}
