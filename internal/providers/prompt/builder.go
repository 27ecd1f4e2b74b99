// Package prompt assembles the instruction text sent alongside the source
// photo to the image generation API.
package prompt

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/restyle-app/server/internal/domain"
)

var titleCaser = cases.Title(language.Und)

// Request carries the user-supplied generation parameters.
type Request struct {
	GenerationType   domain.GenerationType
	OutfitText       string
	BackgroundChange string
}

// BuildInstruction renders the outfit-change instruction. The person in the
// photo must stay recognizable, so the instruction always pins identity,
// pose and proportions regardless of generation type.
func BuildInstruction(req Request) string {
	parts := []string{}

	outfit := strings.TrimSpace(req.OutfitText)
	switch req.GenerationType {
	case domain.GenerationTypeFullRestyle:
		if outfit != "" {
			parts = append(parts, "Restyle the person in this photo with a complete new look: "+outfit+".")
		} else {
			parts = append(parts, "Restyle the person in this photo with a fresh, fashionable look.")
		}
		parts = append(parts, "Hair and accessories may change to match the style.")
	default:
		if outfit != "" {
			parts = append(parts, "Redress the person in this photo in the following outfit: "+outfit+".")
		} else {
			parts = append(parts, "Redress the person in this photo in a new outfit.")
		}
		parts = append(parts, "Keep hair, accessories and everything except the clothing unchanged.")
	}

	parts = append(parts, "Preserve the person's face, identity, pose, body proportions and lighting.")

	if background := strings.TrimSpace(req.BackgroundChange); background != "" && !strings.EqualFold(background, "keep") {
		parts = append(parts, "Set the scene background to: "+titleCaser.String(background)+".")
	} else {
		parts = append(parts, "Keep the original background.")
	}

	parts = append(parts, "Photorealistic result, natural fabric drape, no artifacts, no added text or watermark.")
	return strings.Join(parts, " ")
}
