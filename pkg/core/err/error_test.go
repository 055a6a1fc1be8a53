package errorc

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorChainMessage(t *testing.T) {
	inner := New("读取备份失败", errors.New("permission denied"))
	outer := NewErrorBuilder("BackupController").New("恢复备份失败", inner)

	assert.Equal(t, "恢复备份失败: 读取备份失败: permission denied", outer.Error())
	assert.Contains(t, outer.RootCause(), "读取备份失败: permission denied")
	assert.True(t, errors.Is(outer, inner), "errors.Is 应能穿透错误链")
}

func TestParseErrorAndNotFound(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", gorm.ErrRecordNotFound)
	assert.True(t, IsNotFound(wrapped))

	parsed := ParseError(wrapped)
	assert.Equal(t, 404, parsed.Code)
	assert.Nil(t, ParseError(nil))

	e := NewErrorBuilder("x").BadRequest("参数错误")
	assert.Equal(t, e, ParseError(fmt.Errorf("wrap: %w", e)))
	assert.Equal(t, 400, ParseError(e).Code)
}
