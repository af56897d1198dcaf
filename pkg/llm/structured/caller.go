package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"bioinsight-be/internal/pkg/logger"
	"bioinsight-be/pkg/llm"

	"github.com/go-playground/validator/v10"
)

// ErrParse is returned when the model output never decodes into the target shape.
var ErrParse = errors.New("structured output could not be parsed")

// Validatable lets a target type enforce invariants the struct tags cannot express.
type Validatable interface {
	Validate() error
}

// Caller wraps a plain provider and coerces its replies into a Go value.
// It is built once at composition time and never mutates the provider.
type Caller struct {
	provider   llm.LLMProvider
	validate   *validator.Validate
	maxRetries int
	logger     logger.ILogger
}

func NewCaller(provider llm.LLMProvider, maxRetries int, log logger.ILogger) *Caller {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Caller{
		provider:   provider,
		validate:   validator.New(),
		maxRetries: maxRetries,
		logger:     log,
	}
}

// Call asks the model and decodes the JSON reply into out. On a decode or
// validation failure the error is fed back to the model and the call is
// retried up to maxRetries times. out must be a pointer to a struct.
func (c *Caller) Call(ctx context.Context, history []llm.Message, out interface{}, opts ...llm.Option) error {
	msgs := append([]llm.Message(nil), history...)
	opts = append([]llm.Option{llm.WithTemperature(0.0)}, opts...)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := c.provider.Chat(ctx, msgs, opts...)
		if err != nil {
			lastErr = err
			c.logger.Warn("STRUCTURED", "LLM call failed", map[string]interface{}{
				"attempt": attempt + 1,
				"error":   err.Error(),
			})
			continue
		}

		if err := c.decode(raw, out); err != nil {
			lastErr = err
			c.logger.Warn("STRUCTURED", "Output rejected", map[string]interface{}{
				"attempt": attempt + 1,
				"error":   err.Error(),
				"raw":     logger.Truncate(raw, 300),
			})
			msgs = append(msgs,
				llm.Message{Role: llm.RoleAssistant, Content: raw},
				llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(
					"Your previous reply was invalid: %v. Reply again with ONLY the corrected JSON object.", err)},
			)
			continue
		}
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrParse, c.maxRetries+1, lastErr)
}

func (c *Caller) decode(raw string, out interface{}) error {
	payload, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	// Each attempt decodes into a clean value so maps and slices from a
	// rejected attempt do not leak into the next one.
	if rv := reflect.ValueOf(out); rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
	dec := json.NewDecoder(strings.NewReader(payload))
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	if err := c.validate.Struct(out); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return fmt.Errorf("validation: %w", err)
		}
	}
	if v, ok := out.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ExtractJSON strips code fences and returns the outermost JSON object.
func ExtractJSON(raw string) (string, error) {
	s := StripFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return "", fmt.Errorf("no json object in reply")
	}
	return s[start : end+1], nil
}

// StripFences removes markdown code fences of any language tag.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	var kept []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
