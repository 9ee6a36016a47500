// Package xerrors 提供 idgend 统一的错误处理工具。
//
// 约定：
//   - 每个包在 errors.go 中声明自己的哨兵错误（xerrors.New）
//   - 调用方使用 xerrors.Is / xerrors.As 判断错误类别
//   - 需要机器可读分类时使用 WithCode 附加错误码（例如 HTTP 层映射状态码）
package xerrors

import (
	"errors"
	"fmt"
)

// 跨包共享的错误类别。
var (
	// ErrInvalidInput 参数或配置非法
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable 外部依赖不可达
	ErrUnavailable = errors.New("unavailable")
	// ErrClosed 组件已关闭
	ErrClosed = errors.New("closed")
)

// Wrap 为错误附加上下文信息，保留错误链。err 为 nil 时返回 nil。
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 与 Wrap 相同，消息支持格式化。
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Invalidf 构造一个属于 ErrInvalidInput 类别的错误。
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Derive 创建属于 parent 类别的哨兵错误，Error() 只返回 msg。
//
//	var ErrStoreUnavailable = xerrors.Derive(xerrors.ErrUnavailable, "coord: store unavailable")
func Derive(parent error, msg string) error {
	return &derivedError{msg: msg, parent: parent}
}

type derivedError struct {
	msg    string
	parent error
}

func (e *derivedError) Error() string { return e.msg }
func (e *derivedError) Unwrap() error { return e.parent }

// CodedError 携带机器可读错误码的错误。
type CodedError struct {
	Code  string
	Cause error
}

// WithCode 为错误附加错误码。err 为 nil 时返回 nil。
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return "[" + e.Code + "]"
	}
	return "[" + e.Code + "] " + e.Cause.Error()
}

func (e *CodedError) Unwrap() error { return e.Cause }

// GetCode 返回错误链上最外层的错误码，没有则返回空串。
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// MultiError 聚合多个错误，errors.Is/As 会遍历全部成员。
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%v (and %d more errors)", m.Errors[0], len(m.Errors)-1)
	}
}

func (m *MultiError) Unwrap() []error { return m.Errors }

// Combine 合并多个错误，忽略 nil。只有一个非 nil 错误时原样返回。
func Combine(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return &MultiError{Errors: kept}
	}
}

// Must 在 err 非 nil 时 panic，仅用于初始化阶段。
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("must: %v", err))
	}
	return v
}

// 标准库函数再导出
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
)
