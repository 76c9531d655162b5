package profile

import (
	"os"
	"path/filepath"
	"testing"

	pprof "github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"

	"github.com/volta-zk/volta/air"
)

type countingChip struct{}

func (countingChip) Name() string { return "counting" }

func (countingChip) MainWidth() int { return 2 }

func (countingChip) PreprocessedWidth() int { return 0 }

func (countingChip) Eval(b *air.Builder) {
	b.AssertBool(air.Col(0))
	b.AssertZeroFirst(air.Col(1))
	b.AssertZeroTransition(air.ColNext(1).Sub(air.Col(1)).SubConst(1))
}

func TestProfileCountsConstraints(t *testing.T) {
	p := Start(WithNoOutput())
	b := air.Run(countingChip{})
	p.Add(b)
	p.Add(b)
	require.Equal(t, 2*len(b.Constraints()), p.NbConstraints())
	require.NoError(t, p.Stop())
}

func TestProfileWritesParseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chips.pprof")
	p := Start(WithPath(path))
	p.Add(air.Run(countingChip{}))
	require.NoError(t, p.Stop())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	parsed, err := pprof.Parse(f)
	require.NoError(t, err)
	require.Len(t, parsed.SampleType, 1)
	require.Equal(t, "constraints", parsed.SampleType[0].Type)
}
