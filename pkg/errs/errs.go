// Package errs 定义了检索管道的错误分类。
//
// 每个错误同时匹配其分类哨兵和底层原因：
//
//	errors.Is(err, errs.ErrStore)          // 分类
//	errors.Is(err, context.DeadlineExceeded) // 原因
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration 启动期配置错误（密钥缺失、长度不对、未知 provider），不重试。
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider embedding 调用失败或超时。
	ErrProvider = errors.New("embedding provider error")
	// ErrStore 向量库不可用、超时或返回非 2xx。
	ErrStore = errors.New("vector store unavailable")
	// ErrIntegrity 认证标签校验失败，意味着载荷被篡改或使用了错误的密钥。
	ErrIntegrity = errors.New("integrity check failed")
	// ErrDecode 载荷格式损坏（非 base64、长度不足），与篡改区分开。
	ErrDecode = errors.New("malformed payload")
	// ErrValidation 在任何网络或加密调用之前拒绝的输入。
	ErrValidation = errors.New("validation error")
)

// Error 携带分类、操作名和底层原因。
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap 让 errors.Is / errors.As 同时看到分类和原因。
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New 构造一个分类错误。
func New(kind error, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf 构造一个带格式化原因的分类错误。
func Newf(kind error, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func Configuration(op string, err error) error { return New(ErrConfiguration, op, err) }
func Provider(op string, err error) error      { return New(ErrProvider, op, err) }
func Store(op string, err error) error         { return New(ErrStore, op, err) }
func Integrity(op string, err error) error     { return New(ErrIntegrity, op, err) }
func Decode(op string, err error) error        { return New(ErrDecode, op, err) }
func Validation(op string, err error) error    { return New(ErrValidation, op, err) }

// KindOf 返回 err 所属的分类哨兵，无法识别时返回 nil。
func KindOf(err error) error {
	for _, k := range []error{ErrConfiguration, ErrIntegrity, ErrDecode, ErrValidation, ErrProvider, ErrStore} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
