package prompt

import (
	"strings"
	"testing"

	"github.com/restyle-app/server/internal/domain"
)

func TestBuildInstructionOutfitSwap(t *testing.T) {
	got := BuildInstruction(Request{
		GenerationType: domain.GenerationTypeOutfitSwap,
		OutfitText:     "a navy three-piece suit",
	})
	if !strings.Contains(got, "a navy three-piece suit") {
		t.Fatalf("instruction missing outfit text: %s", got)
	}
	if !strings.Contains(got, "Keep hair, accessories and everything except the clothing unchanged.") {
		t.Fatalf("outfit swap should pin everything but clothing: %s", got)
	}
	if !strings.Contains(got, "Keep the original background.") {
		t.Fatalf("expected background to be kept by default: %s", got)
	}
}

func TestBuildInstructionFullRestyle(t *testing.T) {
	got := BuildInstruction(Request{
		GenerationType: domain.GenerationTypeFullRestyle,
		OutfitText:     "y2k streetwear",
	})
	if !strings.Contains(got, "complete new look") {
		t.Fatalf("full restyle phrasing missing: %s", got)
	}
	if !strings.Contains(got, "Preserve the person's face") {
		t.Fatalf("identity preservation missing: %s", got)
	}
}

func TestBuildInstructionBackgroundChange(t *testing.T) {
	got := BuildInstruction(Request{
		GenerationType:   domain.GenerationTypeOutfitSwap,
		OutfitText:       "a red evening dress",
		BackgroundChange: "paris rooftop at dusk",
	})
	if !strings.Contains(got, "Set the scene background to: Paris Rooftop At Dusk.") {
		t.Fatalf("background change not rendered: %s", got)
	}

	kept := BuildInstruction(Request{
		GenerationType:   domain.GenerationTypeOutfitSwap,
		BackgroundChange: "KEEP",
	})
	if !strings.Contains(kept, "Keep the original background.") {
		t.Fatalf("explicit keep not honored: %s", kept)
	}
}
