package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDSetDeduplicates(t *testing.T) {
	s := NewIDSet("a", "b", "a")
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
}

func TestIDSetMinusAndSorted(t *testing.T) {
	s := NewIDSet("3", "1", "2")
	assert.Equal(t, []string{"1", "3"}, s.Minus(NewIDSet("2", "4")).Sorted())
	assert.Empty(t, NewIDSet().Minus(s))
	assert.Equal(t, []string{}, NewIDSet().Sorted())
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(&ConfigError{Field: "targets", Reason: "required"}))
	assert.True(t, IsFatal(fmt.Errorf("resolve: %w", &StartupError{Stage: "resolve", Err: errors.New("404")})))
	assert.False(t, IsFatal(&RemoteError{Op: "following", Status: 500, Err: errors.New("boom")}))
	assert.False(t, IsFatal(&StorageError{Op: "insert", Err: errors.New("locked")}))
	assert.False(t, IsFatal(nil))
}

func TestRemoteErrorUnwraps(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("cycle: %w", &RemoteError{Op: "following", Err: cause})
	assert.ErrorIs(t, err, cause)

	var re *RemoteError
	assert.True(t, errors.As(err, &re))
	assert.Equal(t, "remote following: connection reset", re.Error())
}
