package models

import (
	"errors"
	"fmt"
)

// ErrConfiguration is the umbrella for every configuration problem. A run
// that hits one must abort before any scenario is evaluated.
var ErrConfiguration = errors.New("q2s: configuration error")

// Specific configuration sentinels. Each matches ErrConfiguration via errors.Is
// when wrapped in a ConfigError.
var (
	ErrUnknownVariable      = errors.New("q2s: domain variable not in contribution table")
	ErrUncoveredVariable    = errors.New("q2s: domain variable not constrained by any quality goal")
	ErrNonPositiveThreshold = errors.New("q2s: threshold is not positive")
	ErrNonFinite            = errors.New("q2s: NaN or Inf value")
	ErrNoPerturbations      = errors.New("q2s: empty perturbation option list")
	ErrNoBaselines          = errors.New("q2s: empty baseline value list")
	ErrNoAlphas             = errors.New("q2s: empty alpha list")
	ErrAlphaRange           = errors.New("q2s: alpha outside [0,1]")
	ErrBadSeverity          = errors.New("q2s: invalid perturbation severity score")
	ErrDuplicateID          = errors.New("q2s: duplicate identifier")
	ErrUnsupportedRelation  = errors.New("q2s: unsupported relation type")
	ErrNoPlans              = errors.New("q2s: plan catalog is empty")
	ErrNoQualityGoals       = errors.New("q2s: no quality goals defined")
	ErrMissingOptions       = errors.New("q2s: no constraint options for quality goal column")
)

// ConfigError attaches the offending subject (a quality goal, column, or
// plan identifier) to a configuration sentinel.
type ConfigError struct {
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Subject == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Subject, e.Err)
}

// Unwrap exposes both the specific sentinel and ErrConfiguration.
func (e *ConfigError) Unwrap() []error {
	return []error{e.Err, ErrConfiguration}
}

// Configf builds a ConfigError for subject wrapping sentinel.
func Configf(sentinel error, format string, args ...any) error {
	return &ConfigError{Subject: fmt.Sprintf(format, args...), Err: sentinel}
}
