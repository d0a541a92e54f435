// Package apperr defines the error values shared by every layer of the chat core.
// Callers wrap them with fmt.Errorf("...: %w", err) and test with errors.Is.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAMember       = errors.New("not a member of this group")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyMember    = errors.New("you already joined this group")
	ErrSelfAction       = errors.New("cannot target yourself")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrBlocked      = errors.New("blocked")
	ErrCancelled    = errors.New("cancelled by user")
)

// Store 把存储层的错误归类：记录不存在映射为 ErrNotFound，其它一律视为 ErrStoreUnavailable。
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Invalid 构造带说明的 ErrInvalidInput。
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Message 返回可以直接展示给用户的错误说明，不暴露存储层细节。
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		msg := err.Error()
		prefix := ErrInvalidInput.Error() + ": "
		if i := strings.Index(msg, prefix); i >= 0 {
			return msg[i+len(prefix):]
		}
		return ErrInvalidInput.Error()
	case errors.Is(err, ErrNotAuthenticated):
		return "please sign in first"
	case errors.Is(err, ErrNotAMember):
		return "you are not a member of this group"
	case errors.Is(err, ErrAlreadyMember):
		return ErrAlreadyMember.Error()
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrSelfAction):
		return "you cannot do that to yourself"
	case errors.Is(err, ErrForbidden):
		return "you are not allowed to do that"
	case errors.Is(err, ErrBlocked):
		return "you have blocked this user"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrStoreUnavailable):
		return "the service is temporarily unavailable, please try again"
	default:
		return "something went wrong"
	}
}
