package volta

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckArtifactVersion(t *testing.T) {
	assert := require.New(t)

	assert.NoError(CheckArtifactVersion(Version.String()))
	assert.NoError(CheckArtifactVersion(fmt.Sprintf("%d.99.0", Version.Major)))

	assert.Error(CheckArtifactVersion(fmt.Sprintf("%d.0.0", Version.Major+1)))
	assert.Error(CheckArtifactVersion("not-a-version"))
}
