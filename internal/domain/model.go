package domain

// GenerationModel is the closed set of image models users may request.
// Mapping a model to its API identifier, credit cost and output size lives
// here so an unknown model cannot slip past submission validation.
type GenerationModel string

const (
	ModelFlashImage GenerationModel = "gemini-2.5-flash-image"
	ModelProImage   GenerationModel = "gemini-3-pro-image-preview"
)

// ValidGenerationModel reports whether m is a known model.
func ValidGenerationModel(m GenerationModel) bool {
	switch m {
	case ModelFlashImage, ModelProImage:
		return true
	}
	return false
}

// APIModel returns the identifier sent to the generation API.
func (m GenerationModel) APIModel() string {
	return string(m)
}

// Cost returns the credit price of one generation with this model.
func (m GenerationModel) Cost() int {
	switch m {
	case ModelProImage:
		return 40
	default:
		return 20
	}
}

// ImageSize returns the output size hint passed to the generation API.
func (m GenerationModel) ImageSize() string {
	switch m {
	case ModelProImage:
		return "2K"
	default:
		return "1K"
	}
}
