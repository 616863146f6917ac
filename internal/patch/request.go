package patch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/KaramelBytes/dashloom-cli/internal/dashspec"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Request asks for ops to be applied to the live spec of a dashboard.
type Request struct {
	DashboardID string `json:"dashboard_id" validate:"required"`
	Patch       []Op   `json:"patch" validate:"required,min=1,max=200,dive"`
	// ExpectedVersion, when set, must equal the stored live version.
	ExpectedVersion *int   `json:"expected_version,omitempty" validate:"omitempty,min=1"`
	ChangeReason    string `json:"change_reason" validate:"max=500"`
	Author          string `json:"author,omitempty" validate:"max=120"`
}

// Validate checks the request's field constraints.
func (r *Request) Validate() error {
	return validate.Struct(r)
}

// RollbackRequest asks for an older snapshot to become the live version.
type RollbackRequest struct {
	DashboardID     string `json:"dashboard_id" validate:"required"`
	ToVersion       int    `json:"to_version" validate:"required,min=1"`
	ExpectedVersion *int   `json:"expected_version,omitempty" validate:"omitempty,min=1"`
	Reason          string `json:"reason" validate:"max=500"`
	Author          string `json:"author,omitempty" validate:"max=120"`
}

// Validate checks the request's field constraints.
func (r *RollbackRequest) Validate() error {
	return validate.Struct(r)
}

// Response describes a committed patch.
type Response struct {
	Version         int            `json:"version"`
	PreviousVersion int            `json:"previous_version"`
	DiffSummary     []string       `json:"diff_summary"`
	NewSpec         *dashspec.Spec `json:"new_spec"`
	Warnings        []string       `json:"warnings"`
}

// FieldErrors flattens validator errors into "field: rule" strings.
func FieldErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		out = append(out, fmt.Sprintf("%s: %s", field, rule))
	}
	return out
}
