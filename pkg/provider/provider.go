// Package provider defines the closed set of upstream LLM providers the
// gateway knows about. Routing and compliance tables key off these IDs, so
// an unknown provider fails at parse time instead of deep inside a lookup.
package provider

import "fmt"

// ID identifies one upstream provider.
type ID string

const (
	OpenAI    ID = "openai"
	Anthropic ID = "anthropic"
	DeepSeek  ID = "deepseek"
	Mistral   ID = "mistral"
	Local     ID = "local"
)

// All lists every known provider in a stable order.
func All() []ID {
	return []ID{OpenAI, Anthropic, DeepSeek, Mistral, Local}
}

// Parse converts a wire string into a provider ID.
func Parse(s string) (ID, error) {
	switch ID(s) {
	case OpenAI, Anthropic, DeepSeek, Mistral, Local:
		return ID(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

func (id ID) String() string { return string(id) }
