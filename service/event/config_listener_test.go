package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	n, err := ParseNotification(`{"table": "elt_pipeline_configs", "type": "UPDATE", "timestamp": 1709280000.5}`)
	require.NoError(t, err)
	assert.Equal(t, "elt_pipeline_configs", n.Table)
	assert.Equal(t, "UPDATE", n.Type)

	_, err = ParseNotification("not json")
	assert.Error(t, err)
}
