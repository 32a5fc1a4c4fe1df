package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tollgate-ai/tollgate/pkg/provider"
)

func TestFedRAMPBlocksWithSubstitutes(t *testing.T) {
	g := NewGate()

	d := g.Filter(ModeFedRAMP, []provider.ID{provider.DeepSeek})

	assert.Empty(t, d.Allowed)
	assert.Len(t, d.Blocked, 1)
	assert.Equal(t, provider.DeepSeek, d.Blocked[0].Provider)
	assert.NotEmpty(t, d.Blocked[0].Reason)
	// A blocked request always carries a path forward.
	assert.Contains(t, d.Substitutes, provider.OpenAI)
	assert.Contains(t, d.Substitutes, provider.Anthropic)
}

func TestFedRAMPPartitionsMixedCandidates(t *testing.T) {
	g := NewGate()

	d := g.Filter(ModeFedRAMP, []provider.ID{provider.OpenAI, provider.DeepSeek, provider.Mistral})

	assert.Equal(t, []provider.ID{provider.OpenAI}, d.Allowed)
	assert.Len(t, d.Blocked, 2)
}

func TestModeNoneAllowsEverything(t *testing.T) {
	g := NewGate()

	d := g.Filter(ModeNone, provider.All())

	assert.Equal(t, provider.All(), d.Allowed)
	assert.Empty(t, d.Blocked)
}

func TestGDPRSubstitutesIncludeMistral(t *testing.T) {
	g := NewGate()

	d := g.Filter(ModeGDPR, []provider.ID{provider.DeepSeek})

	assert.Empty(t, d.Allowed)
	assert.Contains(t, d.Substitutes, provider.Mistral)
}

func TestApproximateMatchingPerMode(t *testing.T) {
	g := NewGate()

	assert.True(t, g.AllowsApproximate(ModeNone))
	assert.True(t, g.AllowsApproximate(ModeGDPR))
	assert.False(t, g.AllowsApproximate(ModeHIPAA))
	assert.False(t, g.AllowsApproximate(ModeFedRAMP))
}

func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeFedRAMP, ParseMode("fedramp"))
	assert.Equal(t, ModeHIPAA, ParseMode("hipaa"))
	assert.Equal(t, ModeGDPR, ParseMode("gdpr"))
	assert.Equal(t, ModeNone, ParseMode(""))
	assert.Equal(t, ModeNone, ParseMode("not-a-mode"))
}
