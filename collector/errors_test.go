package collector

import (
	"io"
	"testing"

	perrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := NewSourceError(ErrorNotFound, "r/golang", "subreddit does not exist", nil)
	assert.Equal(t, ErrorNotFound, KindOf(err))

	// Classification survives wrapping.
	assert.Equal(t, ErrorNotFound, KindOf(perrors.Wrap(err, "while polling")))

	// Unclassified errors default to transport, the retryable kind.
	assert.Equal(t, ErrorTransport, KindOf(io.ErrUnexpectedEOF))
}

func TestSourceErrorUnwrap(t *testing.T) {
	cause := io.ErrUnexpectedEOF
	err := NewSourceError(ErrorMalformed, "https://example.com/rss/", "not well-formed feed document", cause)
	assert.True(t, perrors.Is(err, cause))
	assert.Contains(t, err.Error(), "https://example.com/rss/")
}
