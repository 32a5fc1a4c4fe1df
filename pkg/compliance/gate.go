// Package compliance filters provider choice by regulatory mode. The
// tables are static configuration, loaded not learned; nothing here
// mutates at runtime.
package compliance

import (
	"errors"

	"github.com/tollgate-ai/tollgate/pkg/provider"
)

// ErrBlocked is returned when every requested provider is disallowed for
// the caller's mode. The Decision still carries substitutes; a bare
// rejection with no path forward is never the answer.
var ErrBlocked = errors.New("provider blocked by compliance mode")

// Mode names a policy restricting which upstream providers may be used.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeFedRAMP Mode = "fedramp"
	ModeHIPAA   Mode = "hipaa"
	ModeGDPR    Mode = "gdpr"
)

// ParseMode maps a header value to a known mode, defaulting to none.
func ParseMode(s string) Mode {
	switch Mode(s) {
	case ModeFedRAMP, ModeHIPAA, ModeGDPR:
		return Mode(s)
	}
	return ModeNone
}

// Blocked pairs a rejected provider with the reason.
type Blocked struct {
	Provider provider.ID `json:"provider"`
	Reason   string      `json:"reason"`
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed     []provider.ID `json:"allowed"`
	Blocked     []Blocked     `json:"blocked,omitempty"`
	Substitutes []provider.ID `json:"substitutes,omitempty"`
}

// profile is the per-mode policy row.
type profile struct {
	blocked map[provider.ID]string // provider -> reason
	// substitutes maps a blocked provider to same-capability-class
	// replacements, so a caller whose only provider is blocked always
	// gets a way forward.
	substitutes map[provider.ID][]provider.ID
	// allowApproximate gates the cold tier: sectors that forbid
	// similarity matching never see a semantic hit.
	allowApproximate bool
}

var profiles = map[Mode]profile{
	ModeNone: {
		allowApproximate: true,
	},
	ModeFedRAMP: {
		blocked: map[provider.ID]string{
			provider.DeepSeek: "provider jurisdiction not FedRAMP-authorized",
			provider.Mistral:  "provider not FedRAMP-authorized",
		},
		substitutes: map[provider.ID][]provider.ID{
			provider.DeepSeek: {provider.OpenAI, provider.Anthropic},
			provider.Mistral:  {provider.OpenAI, provider.Anthropic},
		},
		allowApproximate: false,
	},
	ModeHIPAA: {
		blocked: map[provider.ID]string{
			provider.DeepSeek: "no BAA available for this provider",
		},
		substitutes: map[provider.ID][]provider.ID{
			provider.DeepSeek: {provider.OpenAI, provider.Anthropic},
		},
		allowApproximate: false,
	},
	ModeGDPR: {
		blocked: map[provider.ID]string{
			provider.DeepSeek: "data residency outside the EEA without safeguards",
		},
		substitutes: map[provider.ID][]provider.ID{
			provider.DeepSeek: {provider.Mistral, provider.OpenAI},
		},
		allowApproximate: true,
	},
}

// Gate is the compliance filter. Pure lookups only.
type Gate struct{}

// NewGate returns the gate. It exists as a constructed object (rather than
// package functions) so tests and multi-tenant wiring can pass it through
// context explicitly.
func NewGate() *Gate { return &Gate{} }

// Filter partitions the candidates into allowed and blocked-with-reasons,
// attaching substitutes when everything the caller asked for is blocked.
func (g *Gate) Filter(mode Mode, candidates []provider.ID) Decision {
	p, ok := profiles[mode]
	if !ok {
		p = profiles[ModeNone]
	}

	d := Decision{Allowed: []provider.ID{}}
	subs := make(map[provider.ID]bool)
	for _, c := range candidates {
		if reason, blocked := p.blocked[c]; blocked {
			d.Blocked = append(d.Blocked, Blocked{Provider: c, Reason: reason})
			for _, s := range p.substitutes[c] {
				if !subs[s] {
					subs[s] = true
					d.Substitutes = append(d.Substitutes, s)
				}
			}
			continue
		}
		d.Allowed = append(d.Allowed, c)
	}
	return d
}

// AllowsApproximate reports whether the mode permits similarity-based
// (cold tier) matching.
func (g *Gate) AllowsApproximate(mode Mode) bool {
	p, ok := profiles[mode]
	if !ok {
		return true
	}
	return p.allowApproximate
}
