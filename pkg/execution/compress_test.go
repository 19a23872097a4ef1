package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Daedalus/pkg/channel"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
)

func compressTestLinks(t *testing.T, n int) []*workflow.Link {
	t.Helper()
	r := channel.NewRegistry(nil)
	require.NoError(t, r.Register(channel.NewType[float64]("Number")))
	src := workflow.NewSchemeNode(workflow.Description{
		Name:    "src",
		Outputs: []*channel.Output{channel.NewOutput("out", []string{"Number"}, 0)},
	}, "")
	links := make([]*workflow.Link, n)
	for i := range links {
		dst := workflow.NewSchemeNode(workflow.Description{
			Name:   "dst",
			Inputs: []*channel.Input{channel.NewInput("in", []string{"Number"}, 0)},
		}, "")
		link, err := workflow.NewLinkByName(r, src, "out", dst, "in")
		require.NoError(t, err)
		links[i] = link
	}
	return links
}

func TestCompressSignalsEmpty(t *testing.T) {
	assert.Empty(t, CompressSignals(nil))
}

func TestCompressSignalsMergesUpdates(t *testing.T) {
	link := compressTestLinks(t, 1)[0]
	in := []Signal{
		{Kind: Update, Link: link, Value: 1},
		{Kind: Update, Link: link, Value: 3},
		{Kind: Update, Link: link, Value: 2},
	}
	assert.Equal(t, in[2:], CompressSignals(in))
}

func TestCompressSignalsPreservesNilReset(t *testing.T) {
	link := compressTestLinks(t, 1)[0]
	in := []Signal{
		{Kind: Update, Link: link, Value: 1},
		{Kind: Update, Link: link, Value: 2},
		{Kind: Update, Link: link},
		{Kind: Update, Link: link, Value: 3},
	}
	assert.Equal(t, []Signal{in[2], in[3]}, CompressSignals(in))

	in = []Signal{
		{Kind: Update, Link: link},
		{Kind: Update, Link: link, Value: 1},
		{Kind: Update, Link: link},
	}
	assert.Equal(t, in[2:], CompressSignals(in))

	in = []Signal{
		{Kind: Update, Link: link},
		{Kind: Update, Link: link},
	}
	assert.Equal(t, in[1:], CompressSignals(in))
}

func TestCompressSignalsGroupsByID(t *testing.T) {
	link := compressTestLinks(t, 1)[0]
	in := []Signal{
		{Kind: Update, Link: link, ID: 1},
		{Kind: Update, Link: link, Value: 3, ID: 1},
		{Kind: Update, Link: link, Value: 2, ID: 2},
	}
	// Different ids never merge.
	assert.Equal(t, in, CompressSignals(in))
}

func TestCompressSignalsGroupsByLink(t *testing.T) {
	links := compressTestLinks(t, 2)
	in := []Signal{
		{Kind: Update, Link: links[0], Value: 1},
		{Kind: Update, Link: links[1], Value: 2},
		{Kind: Update, Link: links[0], Value: 3},
		{Kind: Update, Link: links[1], Value: 4},
	}
	assert.Equal(t, []Signal{in[2], in[3]}, CompressSignals(in))
}

func TestCompressSignalsCloseDropsUpdates(t *testing.T) {
	link := compressTestLinks(t, 1)[0]
	in := []Signal{
		{Kind: Update, Link: link, Value: 1},
		{Kind: Update, Link: link, Value: 2},
		{Kind: Close, Link: link},
	}
	assert.Equal(t, in[2:], CompressSignals(in))

	in = []Signal{
		{Kind: Update, Link: link, Value: 1},
		{Kind: Update, Link: link},
		{Kind: Update, Link: link, Value: 2},
		{Kind: Close, Link: link},
	}
	assert.Equal(t, in[3:], CompressSignals(in))
}

func TestCompressSignalsNewPassesThrough(t *testing.T) {
	link := compressTestLinks(t, 1)[0]
	in := []Signal{
		{Kind: New, Link: link, Value: 1},
		{Kind: Update, Link: link, Value: 2},
		{Kind: Close, Link: link},
		{Kind: New, Link: link, Value: 3},
	}
	assert.Equal(t, []Signal{in[0], in[2], in[3]}, CompressSignals(in))

	in = []Signal{
		{Kind: New, Link: link},
		{Kind: Close, Link: link},
	}
	assert.Equal(t, in, CompressSignals(in))
}

// Compressing twice yields the same list and the result is always a
// subsequence of the input.
func TestCompressSignalsIdempotent(t *testing.T) {
	links := compressTestLinks(t, 2)
	in := []Signal{
		{Kind: New, Link: links[0], Value: 0},
		{Kind: Update, Link: links[0], Value: 1},
		{Kind: Update, Link: links[1], Value: 2},
		{Kind: Update, Link: links[0]},
		{Kind: Update, Link: links[0], Value: 3},
		{Kind: Close, Link: links[1]},
	}
	once := CompressSignals(in)
	assert.Equal(t, once, CompressSignals(once))

	j := 0
	for _, sig := range in {
		if j < len(once) && once[j] == sig {
			j++
		}
	}
	assert.Equal(t, len(once), j, "compressed output must be a subsequence of the input")
}
