package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation"

	"interview-auth/internal/auth"
)

const minFieldLength = 3

// credentialsRequest is the body of signup and login. Older clients send the
// identifier as "username" or "rollnumber".
type credentialsRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username,omitempty"`
	RollNumber string `json:"rollnumber,omitempty"`
	Password   string `json:"password"`
}

func (r *credentialsRequest) normalize() {
	for _, candidate := range []string{r.Identifier, r.Username, r.RollNumber} {
		if v := strings.TrimSpace(candidate); v != "" {
			r.Identifier = v
			break
		}
	}
	r.Identifier = strings.TrimSpace(r.Identifier)
	r.Password = strings.TrimSpace(r.Password)
}

// Validate will run validation rules
func (r credentialsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required.Error("identifier is required"),
			validation.Length(minFieldLength, 0).Error(fmt.Sprintf("identifier must be at least %d characters", minFieldLength)),
		),
		validation.Field(
			&r.Password,
			validation.Required.Error("password is required"),
			validation.Length(minFieldLength, 0).Error(fmt.Sprintf("password must be at least %d characters", minFieldLength)),
			validation.By(maxBytes(auth.MaxPasswordBytes)),
		),
	)
}

func maxBytes(n int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > n {
			return fmt.Errorf("password must be at most %d bytes", n)
		}
		return nil
	}
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// bindCredentials decodes and validates the request body. When it returns
// false a 422 has already been written.
func bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": []fieldError{{
			Field:   "body",
			Message: "request body must be a JSON object",
		}}})
		return req, false
	}

	req.normalize()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": fieldErrors(err)})
		return req, false
	}
	return req, true
}

func fieldErrors(err error) []fieldError {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return []fieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]fieldError, 0, len(errs))
	for field, fieldErr := range errs {
		out = append(out, fieldError{Field: field, Message: fieldErr.Error()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
