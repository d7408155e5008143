package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/basket/lyrebird/internal/model"
	"github.com/basket/lyrebird/internal/pipeline"
)

var validate = validator.New()

type eggRequest struct {
	Mode              string `json:"mode" validate:"omitempty,oneof=seeded paste"`
	Seed              string `json:"seed" validate:"max=200"`
	MessageCount      int    `json:"messageCount"`
	Transcript        string `json:"transcript"`
	IncludeTranscript bool   `json:"includeTranscript"`
	Profile           string `json:"profile" validate:"max=200"`
	PromptHint        string `json:"promptHint" validate:"max=2000"`
	TraceID           string `json:"traceId" validate:"max=128"`
}

func (r eggRequest) toStart() pipeline.StartRequest {
	return pipeline.StartRequest{
		Mode:              model.RunMode(r.Mode),
		Seed:              r.Seed,
		MessageCount:      r.MessageCount,
		Transcript:        r.Transcript,
		IncludeTranscript: r.IncludeTranscript,
		Profile:           r.Profile,
		PromptHint:        r.PromptHint,
		TraceID:           r.TraceID,
	}
}

type yolkRequest struct {
	FactLimit int `json:"factLimit"`
}

type ruleRequest struct {
	ID      string `json:"id"`
	Find    string `json:"find"`
	Replace string `json:"replace"`
	Action  string `json:"action" validate:"omitempty,oneof=replace pii_remove rewrite_tone"`
}

type albumenRequest struct {
	Passes []ruleRequest `json:"passes" validate:"max=50,dive"`
	Preset string        `json:"preset" validate:"omitempty,max=64"`
}

// toPass maps request rules; a rule without an action is a replace.
func (r albumenRequest) toPass() pipeline.PassRequest {
	rules := make([]model.Rule, 0, len(r.Passes))
	for _, p := range r.Passes {
		action := model.Action(p.Action)
		if action == "" {
			action = model.ActionReplace
		}
		rules = append(rules, model.Rule{ID: p.ID, Find: p.Find, Replace: p.Replace, Action: action})
	}
	return pipeline.PassRequest{Preset: r.Preset, Rules: rules}
}

type graphRequest struct {
	Schema string `json:"schema" validate:"omitempty,oneof=context run"`
}

type musicRequest struct {
	Prompt   string `json:"prompt" validate:"max=2000"`
	Mood     string `json:"mood" validate:"max=64"`
	MockOnly bool   `json:"mockOnly"`
}

type errorBody struct {
	Error  string `json:"error"`
	RunID  string `json:"runId,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// decodeRequest reads an optional JSON body into dst and validates it. An
// empty body leaves dst at its zero value.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request_too_large", Detail: err.Error()})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: "malformed JSON body: " + err.Error()})
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", Detail: err.Error()})
		return false
	}
	return true
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// writeError maps a pipeline error onto its HTTP status and body.
func writeError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal_error", Detail: err.Error()})
		return
	}
	switch pe.Kind {
	case pipeline.KindNotFound:
		writeJSON(w, http.StatusNotFound, errorBody{Error: "run_not_found", RunID: pe.RunID})
	case pipeline.KindClosed:
		writeJSON(w, http.StatusConflict, errorBody{Error: "run_closed", RunID: pe.RunID})
	case pipeline.KindConflict:
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_transition", RunID: pe.RunID, Detail: pe.Err.Error()})
	case pipeline.KindInvalid:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_request", RunID: pe.RunID, Detail: pe.Err.Error()})
	default:
		code := "internal_error"
		if pe.Stage != "" {
			code = pipeline.ErrorCode(pe.Stage)
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: code, RunID: pe.RunID, Detail: pe.Err.Error()})
	}
}
