package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateInstanceID(t *testing.T) {
	a := GenerateInstanceID()
	b := GenerateInstanceID()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed} {
		assert.True(t, s.Valid(), s)
	}

	assert.False(t, Status("").Valid())
	assert.False(t, Status("done").Valid())
}
