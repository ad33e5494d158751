package domain

import (
	"fmt"
	"strings"
)

// ArtifactRef points at an uploaded input or a produced output image.
type ArtifactRef struct {
	ID     string `json:"id,omitempty"`
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// InputRefs carries references to already-uploaded artifacts (model photo
// and garments, or a design base) plus optional generation parameters.
type InputRefs struct {
	Kind       JobKind           `json:"kind"`
	Artifacts  []ArtifactRef     `json:"inputs"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Primary returns the first artifact, which the simulated path passes through.
func (in InputRefs) Primary() ArtifactRef {
	if len(in.Artifacts) == 0 {
		return ArtifactRef{}
	}
	return in.Artifacts[0]
}

// Validate checks the inputs before they are sent to the generation service.
func (in InputRefs) Validate() error {
	if _, ok := ParseJobKind(string(in.Kind)); !ok {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidInput, in.Kind)
	}
	if len(in.Artifacts) == 0 {
		return fmt.Errorf("%w: at least one input artifact is required", ErrInvalidInput)
	}
	for idx, ref := range in.Artifacts {
		if strings.TrimSpace(ref.URL) == "" {
			return fmt.Errorf("%w: input %d has no url", ErrInvalidInput, idx)
		}
	}
	return nil
}
