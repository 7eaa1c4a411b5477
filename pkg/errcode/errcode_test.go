package errcode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCode(t *testing.T) {
	err := ErrNetwork.Wrap(fmt.Errorf("dial tcp: refused"))

	assert.Equal(t, ErrNetwork.Code, err.Code)
	assert.Contains(t, err.Msg, "refused")
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestWrapNil(t *testing.T) {
	assert.Same(t, ErrConvNotFound, ErrConvNotFound.Wrap(nil))
}

func TestIsMatchesByCode(t *testing.T) {
	remote := New(3001, "conversation conv_9 not found")

	assert.True(t, errors.Is(remote, ErrConvNotFound))
	assert.False(t, errors.Is(remote, ErrNotParticipant))
	assert.False(t, errors.Is(remote, errors.New("plain")))
}
