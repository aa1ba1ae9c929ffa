package pipeline

import (
	"context"

	"github.com/nextlevelbuilder/beacon/internal/bus"
)

// AttachmentProcessor turns inbound media into text the agent can read:
// images become vision descriptions, audio becomes a transcript. The
// pipeline appends whatever comes back to the user message.
type AttachmentProcessor interface {
	Process(ctx context.Context, att bus.Attachment) (string, error)
}
