package humanize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSize(t *testing.T) {
	assert.Equal(t, "512B", Size(512))
	assert.Equal(t, "1.00KB", Size(1024))
	assert.Equal(t, "1.50MB", Size(1024*1024*3/2))
	assert.Equal(t, "2.00GB", Size(2*1024*1024*1024))
}
