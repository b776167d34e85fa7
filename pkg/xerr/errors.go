package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Codes used across the gateway. HTTP statuses coming back from the business
// tier are carried as-is.
const (
	OK                 = 200
	RequestParamsError = 400
	Unauthorized       = 401
	RateLimited        = 429
	ServerCommonError  = 500
	UpstreamError      = 502
	Unavailable        = 503
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *CodeError) Error() string {
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Code extracts the code of the first CodeError in err's chain, or
// ServerCommonError when there is none.
func Code(err error) int {
	if err == nil {
		return OK
	}
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

func MapErrMsg(code int) string {
	switch code {
	case RequestParamsError:
		return "bad request"
	case Unauthorized:
		return "unauthorized"
	case RateLimited:
		return "too many requests"
	case UpstreamError:
		return "upstream error"
	case Unavailable:
		return "service unavailable"
	case ServerCommonError:
		return "internal error"
	default:
		if txt := http.StatusText(code); txt != "" {
			return txt
		}
		return "unknown error"
	}
}
