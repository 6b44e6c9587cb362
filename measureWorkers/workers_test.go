package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWorkers(t *testing.T) {
	workers, err := parseWorkers("1, 2,8")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 8}, workers)

	_, err = parseWorkers("1,zero")
	assert.Error(t, err)
	_, err = parseWorkers("0")
	assert.Error(t, err)
}
