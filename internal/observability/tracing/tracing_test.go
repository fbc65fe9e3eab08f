package tracing

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSafeErrorKeepsOutermostMessage(t *testing.T) {
	err := fmt.Errorf("insert member: %w", errors.New("jane@example.com already exists"))
	assert.EqualError(t, SafeError(err), "insert member")
	assert.Nil(t, SafeError(nil))
}

func TestNewProviderDisabled(t *testing.T) {
	tp, err := NewProvider(nil, Config{ServiceName: "enrollment"}, zap.NewNop())
	assert.NoError(t, err)
	assert.NotNil(t, tp)
}
