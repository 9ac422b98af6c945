package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Tokens_Sort_In_Creation_Order(t *testing.T) {
	req := require.New(t)

	previous := ""
	for i := 0; i < 1000; i++ {
		token, err := NewToken()
		req.NoError(err)
		req.Len(token, 36)
		req.Greater(token, previous, "token %d must sort after its predecessor", i)
		previous = token
	}
}

func Test_Tokens_Are_Unique(t *testing.T) {
	req := require.New(t)

	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		token, err := NewToken()
		req.NoError(err)
		_, dup := seen[token]
		req.False(dup, "duplicate token %s", token)
		seen[token] = struct{}{}
	}
}
