// Package speak talks to the speak backend and runs one playback session at a
// time on top of the avatar clock.
package speak

import (
	"encoding/json"
	"errors"

	"github.com/normanking/speakavatar/internal/viseme"
)

var (
	// ErrEmptyText is returned when there is nothing to say.
	ErrEmptyText = errors.New("nothing to speak")
	// ErrSuperseded is returned for a response that arrived after a newer
	// session started or the session was stopped.
	ErrSuperseded = errors.New("session superseded")
	// ErrNoBackend is returned by backend-only operations in local mode.
	ErrNoBackend = errors.New("no speak backend configured")
)

// SpeakResponse is the flat payload of every speak endpoint.
type SpeakResponse struct {
	S3URL          string                  `json:"s3_url"`
	VisemesMapped  []viseme.RawEvent       `json:"visemes_mapped"`
	VisemesRaw     []viseme.RawVisemeLabel `json:"visemes_raw,omitempty"`
	Transcript     string                  `json:"transcript,omitempty"`
	SourceText     string                  `json:"source_text,omitempty"`
	TranslatedText string                  `json:"translated_text,omitempty"`
}

// Language is one entry of the language pickers.
type Language struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Options are the optional request fields. Nil pointers are left out of the
// request; ReturnTranscript then takes the endpoint's default.
type Options struct {
	Style            string
	NeuralOnly       *bool
	SampleRateHz     *int
	ReturnTranscript *bool
}

func (o Options) returnTranscript(def bool) bool {
	if o.ReturnTranscript == nil {
		return def
	}
	return *o.ReturnTranscript
}

type textRequest struct {
	InputType        string `json:"input_type"`
	CurrentLang      string `json:"current_lang"`
	TargetLang       string `json:"target_lang"`
	Text             string `json:"text"`
	Style            string `json:"style,omitempty"`
	NeuralOnly       *bool  `json:"neural_only,omitempty"`
	SampleRateHz     *int   `json:"sample_rate_hz,omitempty"`
	ReturnTranscript bool   `json:"return_transcript"`
}

type voiceS3Request struct {
	Bucket           string `json:"bucket"`
	Key              string `json:"key"`
	CurrentLang      string `json:"current_lang"`
	TargetLang       string `json:"target_lang"`
	ReturnTranscript bool   `json:"return_transcript"`
}

type languagesResponse struct {
	OK   bool       `json:"ok"`
	Data []Language `json:"data"`
}

// unwrap accepts both {data: {...}} envelopes and bare payloads.
func unwrap(raw []byte, v interface{}) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err == nil {
		if data, ok := env["data"]; ok {
			return json.Unmarshal(data, v)
		}
	}
	return json.Unmarshal(raw, v)
}
