package xerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	wrapped := fmt.Errorf("forward: %w", NewErrCode(UpstreamError))

	assert.Equal(t, UpstreamError, Code(wrapped))
	assert.Equal(t, OK, Code(nil))
	assert.Equal(t, ServerCommonError, Code(errors.New("plain")))
}

func TestMapErrMsg(t *testing.T) {
	assert.Equal(t, "too many requests", MapErrMsg(RateLimited))
	assert.Equal(t, "Not Found", MapErrMsg(404))
	assert.Equal(t, "unknown error", MapErrMsg(999))
}
