package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNvidiaSMI(t *testing.T) {
	got := parseNvidiaSMI("54\n")
	require.NotNil(t, got)
	assert.Equal(t, 54.0, *got)

	got = parseNvidiaSMI("48\r\n71\r\n60\r\n")
	require.NotNil(t, got)
	assert.Equal(t, 71.0, *got, "hottest GPU wins")

	assert.Nil(t, parseNvidiaSMI(""))
	assert.Nil(t, parseNvidiaSMI("[N/A]\n"))
}
