package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pankaj139/pixelforge/internal/server"
	"github.com/pankaj139/pixelforge/internal/worker"
)

// The queue must keep satisfying its consumers' interfaces.
var (
	_ worker.Queue = (*RedisQueue)(nil)
	_ server.Queue = (*RedisQueue)(nil)
)

func TestIsBusyGroupErr(t *testing.T) {
	assert.False(t, isBusyGroupErr(nil))
	assert.True(t, isBusyGroupErr(errBusyGroup{}))
	assert.False(t, isBusyGroupErr(errOther{}))
}

type errBusyGroup struct{}

func (errBusyGroup) Error() string { return "BUSYGROUP Consumer Group name already exists" }

type errOther struct{}

func (errOther) Error() string { return "connection refused" }
