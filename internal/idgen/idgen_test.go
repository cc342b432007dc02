package idgen

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	id := New()
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`), id)
	assert.NotEqual(t, id, New())
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("rsk_")
	assert.Regexp(t, regexp.MustCompile(`^rsk_[0-9a-f]{24}$`), id)
}

func TestHex(t *testing.T) {
	assert.Len(t, Hex(6), 12)
	assert.Empty(t, Hex(0))
}
