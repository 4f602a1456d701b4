package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewRunID(t *testing.T) {
	t.Parallel()

	gen := New()
	seen := make(map[goUUID.UUID]struct{})
	for range 100 {
		id, err := gen.NewRunID()
		require.NoError(t, err)
		require.Equal(t, goUUID.Version(7), id.Version())
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}
