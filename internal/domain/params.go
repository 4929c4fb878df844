package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RequestType selects the handler for a job.
type RequestType string

const (
	RequestRespondToPost    RequestType = "respond_to_post"
	RequestRespondToPostTag RequestType = "respond_to_post_tag"
	RequestGeneratePersona  RequestType = "generate_persona"
)

// ErrUnknownRequestType is returned when a job names no known handler.
var ErrUnknownRequestType = errors.New("unknown request type")

// Params is the typed payload of a job. Each RequestType has exactly one
// variant.
type Params interface {
	RequestType() RequestType
}

// RespondToPostParams carries nothing; the target post is on the job row.
type RespondToPostParams struct{}

func (RespondToPostParams) RequestType() RequestType { return RequestRespondToPost }

// RespondToPostTagParams answers a post as a specific tagged persona.
type RespondToPostTagParams struct {
	TaggedPersonaID int64  `json:"tagged_persona_id"`
	TagText         string `json:"tag_text,omitempty"`
}

func (RespondToPostTagParams) RequestType() RequestType { return RequestRespondToPostTag }

// OutputPreferences shapes the refined persona text.
type OutputPreferences struct {
	DesiredHeadings  []string `json:"desired_headings,omitempty"`
	TonePreference   string   `json:"tone_preference,omitempty"`
	LengthPreference string   `json:"length_preference,omitempty"`
}

// PersonaInputDetails are the hints the user supplied.
type PersonaInputDetails struct {
	NameHint        string `json:"name_hint,omitempty"`
	DescriptionHint string `json:"description_hint"`
}

// GeneratePersonaParams drives the two-stage persona generator.
type GeneratePersonaParams struct {
	GenerationType            string              `json:"generation_type"`
	InputDetails              PersonaInputDetails `json:"input_details"`
	OutputPreferences         OutputPreferences   `json:"output_preferences"`
	ModelForGeneration        string              `json:"llm_model_for_generation,omitempty"`
	TargetPersonaNameOverride string              `json:"target_persona_name_override,omitempty"`
}

func (GeneratePersonaParams) RequestType() RequestType { return RequestGeneratePersona }

// DecodeParams turns the stored payload into the variant for t. An empty
// payload is valid for reply jobs.
func DecodeParams(t RequestType, raw []byte) (Params, error) {
	switch t {
	case RequestRespondToPost:
		return RespondToPostParams{}, nil
	case RequestRespondToPostTag:
		var p RespondToPostTagParams
		if err := unmarshalOptional(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", t, err)
		}
		if p.TaggedPersonaID <= 0 {
			return nil, fmt.Errorf("decode %s params: tagged_persona_id is required", t)
		}
		return p, nil
	case RequestGeneratePersona:
		var p GeneratePersonaParams
		if err := unmarshalOptional(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownRequestType, string(t))
	}
}

// EncodeParams serializes p for storage.
func EncodeParams(p Params) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	if _, ok := p.(RespondToPostParams); ok {
		return nil, nil
	}
	return json.Marshal(p)
}

func unmarshalOptional(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
