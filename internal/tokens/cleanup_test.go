package tokens

import (
	"testing"

	"github.com/haasonsaas/agentrt/pkg/models"
)

func TestCleanupEphemeralDropsEphemeralOnlyStandaloneMessage(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: "<system-reminder>just a reminder</system-reminder>"},
		{Role: models.RoleUser, Content: "real question"},
	}
	out := CleanupEphemeral(msgs)
	if len(out) != 1 {
		t.Fatalf("expected the ephemeral-only message dropped, got %d messages", len(out))
	}
	if out[0].Content != "real question" {
		t.Fatalf("expected surviving message to be the real one, got %q", out[0].Content)
	}
}

func TestCleanupEphemeralStripsMixedTagsWithoutDropping(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: `keep this <system-reminder>drop this</system-reminder>`},
	}
	out := CleanupEphemeral(msgs)
	if len(out) != 1 {
		t.Fatalf("expected message retained, got %d", len(out))
	}
	if out[0].Content != "keep this" {
		t.Fatalf("expected stripped content %q, got %q", "keep this", out[0].Content)
	}
}

func TestCleanupEphemeralDropsMetadataFlaggedMessage(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleTool, Content: "tool output", Metadata: models.Metadata{Ephemeral: true}},
		{Role: models.RoleUser, Content: "real"},
	}
	out := CleanupEphemeral(msgs)
	if len(out) != 1 || out[0].Content != "real" {
		t.Fatalf("expected only the non-ephemeral message to survive, got %v", out)
	}
}

func TestCleanupEphemeralKeepsToolMessageEvenWithNoTagsLeft(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleTool, Content: `<system-reminder>only a reminder</system-reminder>`},
	}
	out := CleanupEphemeral(msgs)
	if len(out) != 1 {
		t.Fatalf("expected tool message retained even though only ephemeral tags were present, got %d", len(out))
	}
	if out[0].Content != "" {
		t.Fatalf("expected stripped-to-empty tool content, got %q", out[0].Content)
	}
}

func TestCleanupEphemeralIsIdempotent(t *testing.T) {
	msgs := []*models.Message{
		{Role: models.RoleUser, Content: `keep <system-reminder>drop</system-reminder>`},
		{Role: models.RoleUser, Content: `<system-reminder>only</system-reminder>`},
		{Role: models.RoleAssistant, Content: "plain"},
	}
	once := CleanupEphemeral(msgs)
	twice := CleanupEphemeral(once)
	if len(once) != len(twice) {
		t.Fatalf("expected cleanup(cleanup(x)) == cleanup(x) by length, got %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Fatalf("expected idempotent content at index %d, got %q vs %q", i, once[i].Content, twice[i].Content)
		}
	}
}
