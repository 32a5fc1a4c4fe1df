// Package fingerprint turns a logical LLM request into a stable content
// address. Two requests with the same provider, model, ordered messages and
// temperature always hash to the same key, no matter how the caller's JSON
// happened to order its object fields.
//
// Fingerprints are SHA-256 content addresses. They are NOT reconcilable with
// credential-style hashes (bcrypt et al.); whoever owns key-to-tenant
// mapping must treat those as separate keyspaces, not try to join them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
)

// Version prefixes every fingerprint. Bumping it invalidates all old keys
// safely instead of silently colliding with them after a canonicalization
// change.
const Version = "v1"

// ErrInvalidRequest is returned for requests that cannot be fingerprinted:
// an empty message list, or one whose contents are all whitespace.
var ErrInvalidRequest = errors.New("invalid request: empty or whitespace-only messages")

// Message is one turn of the conversation being cached.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Compute canonicalizes the request by fixed field order and hashes it.
// Pure function, no side effects.
func Compute(provider, model string, messages []Message, temperature float64) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}

	// Fixed field order. Serializing a map here would make the key depend
	// on iteration order, which is a correctness bug, not a style choice.
	var b strings.Builder
	b.WriteString(provider)
	b.WriteByte('\n')
	b.WriteString(model)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatFloat(temperature, 'f', -1, 64))
	for _, m := range messages {
		b.WriteByte('\n')
		b.WriteString(m.Role)
		b.WriteByte(':')
		b.WriteString(m.Content)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return Version + ":" + hex.EncodeToString(sum[:]), nil
}

// Validate rejects message lists that would fingerprint to garbage.
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return ErrInvalidRequest
	}
	for _, m := range messages {
		if strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return ErrInvalidRequest
}

// SourceText flattens the message contents into the text the cold tier
// embeds for similarity lookup.
func SourceText(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// StorageKey builds the warm-tier key layout:
// <namespace>:<version>:<provider>:<model>:<fingerprint-hex>.
// The fingerprint already carries the version prefix, so the namespace is
// the only part prepended here.
func StorageKey(namespace, provider, model, fp string) string {
	if namespace == "" {
		namespace = "default"
	}
	return namespace + ":" + provider + ":" + model + ":" + fp
}
