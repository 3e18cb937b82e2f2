package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/turtacn/meshconverge/pkg/errors"
)

func TestRequireMatchesIsAdmin(t *testing.T) {
	admin, err := IsAdmin()
	require.NoError(t, err)

	err = Require()
	if admin {
		assert.NoError(t, err)
		return
	}
	code, ok := apperrors.CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeAdminRequired, code)
	assert.Equal(t, 3, apperrors.ExitCode(err))
}
