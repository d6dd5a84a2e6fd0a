// Package gerr 定义收发会话共用的错误分类。
//
// 每个错误都带有 Kind，调用方通过 errors.Is 与哨兵错误比较来判断类别：
//
//	if errors.Is(err, gerr.ErrConfig) { ... }
package gerr

import (
	"errors"
	"fmt"
)

// Kind 错误类别。
type Kind uint8

const (
	KindUnknown Kind = iota
	KindConfig
	KindBind
	KindInterface
	KindSend
	KindReceive
	KindWrite
	KindDataset
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindConfig:    "config",
	KindBind:      "bind",
	KindInterface: "interface",
	KindSend:      "send",
	KindReceive:   "receive",
	KindWrite:     "write",
	KindDataset:   "dataset",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// 哨兵错误，仅用于 errors.Is 比较。
var (
	ErrConfig    = &Err{Kind: KindConfig}
	ErrBind      = &Err{Kind: KindBind}
	ErrInterface = &Err{Kind: KindInterface}
	ErrSend      = &Err{Kind: KindSend}
	ErrReceive   = &Err{Kind: KindReceive}
	ErrWrite     = &Err{Kind: KindWrite}
	ErrDataset   = &Err{Kind: KindDataset}
)

// Err 是带类别的错误。Op 描述失败的操作，Err 为底层原因。
type Err struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Err) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Err) Unwrap() error {
	return e.Err
}

// Is 按类别匹配，使 errors.Is(err, ErrConfig) 对任意 KindConfig 错误成立。
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New 创建指定类别的错误。
func New(kind Kind, op string, err error) error {
	return &Err{Kind: kind, Op: op, Err: err}
}

// Newf 以格式化消息作为底层原因创建错误。
func Newf(kind Kind, op string, format string, args ...interface{}) error {
	return &Err{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap 为 err 添加类别；err 为 nil 时返回 nil。已分类的错误保持原类别。
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Err
	if errors.As(err, &e) {
		return err
	}
	return &Err{Kind: kind, Op: op, Err: err}
}

func Config(op string, format string, args ...interface{}) error {
	return Newf(KindConfig, op, format, args...)
}

func Bind(op string, err error) error      { return New(KindBind, op, err) }
func Interface(op string, err error) error { return New(KindInterface, op, err) }
func Send(op string, err error) error      { return New(KindSend, op, err) }
func Receive(op string, err error) error   { return New(KindReceive, op, err) }
func Write(op string, err error) error     { return New(KindWrite, op, err) }
func Dataset(op string, err error) error   { return New(KindDataset, op, err) }

// KindOf 返回 err 链中第一个 *Err 的类别。
func KindOf(err error) Kind {
	var e *Err
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal 报告错误是否应终止会话。
// 单包的收发与写入错误是可恢复的，其余类别（含未分类错误）均视为致命。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindSend, KindReceive, KindWrite:
		return false
	default:
		return true
	}
}
