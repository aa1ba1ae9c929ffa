// Package pairing decides whether an inbound DM sender may talk to the
// agent, issuing single-use pairing codes when the policy requires them.
package pairing

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/beacon/internal/store"
)

// Policy controls how unknown DM senders are treated.
type Policy string

const (
	PolicyOpen      Policy = "open"
	PolicyAllowlist Policy = "allowlist"
	PolicyPairing   Policy = "pairing"
)

// ParsePolicy maps a config string to a Policy, defaulting to pairing.
func ParsePolicy(s string) Policy {
	switch Policy(strings.ToLower(s)) {
	case PolicyOpen:
		return PolicyOpen
	case PolicyAllowlist:
		return PolicyAllowlist
	default:
		return PolicyPairing
	}
}

// Decision is the outcome of a gate check.
type Decision int

const (
	Allowed Decision = iota
	Denied
	PendingPairing
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	default:
		return "pending_pairing"
	}
}

// Codes avoid ambiguous characters (I, O, 0, 1).
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

const successNotice = "Pairing successful! You can now send messages."

// Notify delivers gate-originated text to the sender via the adapter.
type Notify func(ctx context.Context, text string) error

// Gate enforces the DM policy in front of the pipeline.
type Gate struct {
	policy Policy
	repo   *store.PairingRepo
}

func NewGate(policy Policy, repo *store.PairingRepo) *Gate {
	return &Gate{policy: policy, repo: repo}
}

func (g *Gate) Policy() Policy { return g.policy }

// Check evaluates one inbound DM. Any user-visible text (codes, the
// success notice) goes out through notify; the pipeline itself stays
// silent for non-Allowed outcomes.
func (g *Gate) Check(ctx context.Context, senderID, channel, text string, notify Notify) (Decision, error) {
	switch g.policy {
	case PolicyOpen:
		return Allowed, nil

	case PolicyAllowlist:
		ok, err := g.repo.IsAllowed(ctx, senderID, channel)
		if err != nil {
			return Denied, err
		}
		if ok {
			return Allowed, nil
		}
		// Denied senders get silence.
		return Denied, nil

	default: // PolicyPairing
		ok, err := g.repo.IsAllowed(ctx, senderID, channel)
		if err != nil {
			return Denied, err
		}
		if ok {
			return Allowed, nil
		}

		if candidate, isCode := extractCode(text); isCode {
			verified, err := g.repo.Verify(ctx, senderID, channel, candidate)
			if err != nil {
				return Denied, err
			}
			if verified {
				if notify != nil {
					if err := notify(ctx, successNotice); err != nil {
						slog.Warn("pairing.notify_failed", "sender", senderID, "channel", channel, "error", err)
					}
				}
				slog.Info("pairing.approved", "sender", senderID, "channel", channel)
				return Allowed, nil
			}
		}

		code, err := GenerateCode()
		if err != nil {
			return Denied, err
		}
		wrote, err := g.repo.SetPendingCode(ctx, senderID, channel, code)
		if err != nil {
			return Denied, err
		}
		if !wrote {
			// Raced with an approval; let the next message through.
			return PendingPairing, nil
		}
		if notify != nil {
			msg := fmt.Sprintf("To start chatting, please confirm pairing with this code: %s\nIt expires in 10 minutes.", code)
			if err := notify(ctx, msg); err != nil {
				slog.Warn("pairing.notify_failed", "sender", senderID, "channel", channel, "error", err)
			}
		}
		return PendingPairing, nil
	}
}

// GenerateCode returns a fresh 6-character pairing code drawn from the
// unambiguous alphabet.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate pairing code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// extractCode reports whether the message is exactly a pairing code,
// tolerating surrounding whitespace and lowercase entry.
func extractCode(text string) (string, bool) {
	candidate := strings.ToUpper(strings.TrimSpace(text))
	if len(candidate) != codeLength {
		return "", false
	}
	for _, r := range candidate {
		if !strings.ContainsRune(codeAlphabet, r) {
			return "", false
		}
	}
	return candidate, true
}
