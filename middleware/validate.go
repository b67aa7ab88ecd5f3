package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// Field types understood by Rule.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeEmail   = "email"
	TypeURL     = "url"
	TypeArray   = "array"
)

const validatedBodyKey = "vigil_validated_body"

var formatValidator = validator.New()

// Rule describes the checks applied to one top-level body field. Zero
// length bounds are not enforced.
type Rule struct {
	Field     string
	Required  bool
	Type      string
	MinLength int
	MaxLength int
	Pattern   *regexp.Regexp
	Sanitize  bool
	Custom    func(value any) error
}

// FieldError is one entry of a 400 validation response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks the JSON body against rules. Every rule is evaluated and
// all failures are returned together. On success the body is rewritten
// with the sanitized values.
func Validate(rules ...Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Validation failed",
				"details": []FieldError{{Field: "body", Message: err.Error()}},
			})
			return
		}

		errs := make([]FieldError, 0)
		for _, rule := range rules {
			value, msg := checkRule(rule, body[rule.Field])
			if msg != "" {
				errs = append(errs, FieldError{Field: rule.Field, Message: msg})
				continue
			}
			if value != nil {
				body[rule.Field] = value
			}
		}
		if len(errs) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "Validation failed",
				"details": errs,
			})
			return
		}

		sanitized, err := json.Marshal(body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":  "Failed to encode request body",
				"detail": err.Error(),
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(sanitized))
		c.Request.ContentLength = int64(len(sanitized))
		c.Set(validatedBodyKey, body)
		c.Next()
	}
}

// ValidatedBody returns the sanitized body stored by Validate.
func ValidatedBody(c *gin.Context) map[string]any {
	if v, ok := c.Get(validatedBodyKey); ok {
		if body, ok := v.(map[string]any); ok {
			return body
		}
	}
	return nil
}

func readBody(c *gin.Context) (map[string]any, error) {
	if c.Request.Body == nil {
		return map[string]any{}, nil
	}
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("body must be a JSON object")
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

// checkRule returns the (possibly sanitized) value, or a failure message.
func checkRule(rule Rule, value any) (any, string) {
	if isEmpty(value) {
		if rule.Required {
			return nil, rule.Field + " is required"
		}
		return nil, ""
	}

	switch rule.Type {
	case "", TypeString, TypeEmail, TypeURL:
		s, ok := value.(string)
		if !ok {
			return nil, rule.Field + " must be a string"
		}
		if rule.Sanitize {
			s = strings.TrimSpace(s)
		}
		if rule.Type == TypeEmail && formatValidator.Var(s, "email") != nil {
			return nil, rule.Field + " must be a valid email"
		}
		if rule.Type == TypeURL && formatValidator.Var(s, "url") != nil {
			return nil, rule.Field + " must be a valid url"
		}
		if msg := checkLength(rule, len([]rune(s))); msg != "" {
			return nil, msg
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
			return nil, rule.Field + " has an invalid format"
		}
		// Limits apply to what the client sent, not the escaped form.
		if rule.Sanitize {
			s = html.EscapeString(s)
		}
		value = s
	case TypeNumber:
		if _, ok := value.(float64); !ok {
			return nil, rule.Field + " must be a number"
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return nil, rule.Field + " must be a boolean"
		}
	case TypeArray:
		items, ok := value.([]any)
		if !ok {
			return nil, rule.Field + " must be an array"
		}
		if msg := checkLength(rule, len(items)); msg != "" {
			return nil, msg
		}
		if rule.Sanitize {
			for i, item := range items {
				if s, ok := item.(string); ok {
					items[i] = html.EscapeString(strings.TrimSpace(s))
				}
			}
		}
	default:
		return nil, fmt.Sprintf("%s has unknown type %q", rule.Field, rule.Type)
	}

	if rule.Custom != nil {
		if err := rule.Custom(value); err != nil {
			return nil, fmt.Sprintf("%s %s", rule.Field, err.Error())
		}
	}
	return value, ""
}

func checkLength(rule Rule, n int) string {
	if rule.MinLength > 0 && n < rule.MinLength {
		return fmt.Sprintf("%s must be at least %d characters", rule.Field, rule.MinLength)
	}
	if rule.MaxLength > 0 && n > rule.MaxLength {
		return fmt.Sprintf("%s must be at most %d characters", rule.Field, rule.MaxLength)
	}
	return ""
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}
