package utils

import (
	"errors"
	"strings"
	"sync"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
)

type validatorPair struct {
	v     *validator.Validate
	trans ut.Translator
}

var sharedValidator = sync.OnceValue(func() validatorPair {
	v, trans := NewValidator()
	return validatorPair{v: v, trans: trans}
})

// GetValidator 进程内共享的中文验证器
func GetValidator() (*validator.Validate, ut.Translator) {
	p := sharedValidator()
	return p.v, p.trans
}

// Validate 返回拼接后的中文错误信息与原始错误
func Validate(data interface{}) (string, error) {
	v, trans := GetValidator()
	return ValidateStruct(v, trans, data)
}

// FieldError 单个字段的校验失败
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 汇总所有字段错误，Error() 为中文描述
type ValidationError struct {
	Fields []FieldError
	cause  error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return e.cause }

// Check 校验失败时返回 *ValidationError，便于调用方按字段展示
func Check(data interface{}) error {
	v, trans := GetValidator()
	err := v.Struct(data)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return err
	}
	ve := &ValidationError{cause: err}
	for _, fe := range errs {
		ve.Fields = append(ve.Fields, FieldError{Field: fe.Namespace(), Message: fe.Translate(trans)})
	}
	return ve
}

// IsValid 只关心是否通过时使用
func IsValid(data interface{}) (bool, string) {
	msg, err := Validate(data)
	return err == nil, msg
}
