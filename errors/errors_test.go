package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Kind_Predicates(t *testing.T) {
	req := require.New(t)

	req.True(IsNotFound(NotFound("thread", "t1")))
	req.True(IsAlreadyExists(AlreadyExists("contact", "bob")))
	req.True(IsVersionConflict(VersionConflict("bob", 3)))
	req.True(IsValidation(Validation("bad handle %q", "x y")))
	req.True(IsStorage(Storage(stderrors.New("disk full"))))

	req.False(IsNotFound(Validation("nope")))
	req.False(IsNotFound(nil))
	req.False(IsNotFound(stderrors.New("plain")))
}

func Test_Kinds_Survive_Wrapping(t *testing.T) {
	req := require.New(t)

	wrapped := fmt.Errorf("while replying: %w", NotFound("message", "m1"))
	req.True(IsNotFound(wrapped))

	var e *Error
	req.True(As(wrapped, &e))
	req.Equal("message", e.Entity)
	req.Equal("m1", e.Ref)
}

func Test_Storage_Unwraps_Cause(t *testing.T) {
	req := require.New(t)

	cause := stderrors.New("io failure")
	err := Storage(cause)
	req.True(Is(err, cause))
	req.Contains(err.Error(), "io failure")
}

func Test_Error_Messages(t *testing.T) {
	req := require.New(t)

	req.Equal("not_found: thread t1", NotFound("thread", "t1").Error())
	req.Contains(VersionConflict("bob", 2).Error(), "expected version 2 is stale")
}
