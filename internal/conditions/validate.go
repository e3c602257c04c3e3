package conditions

import (
	"github.com/pkg/errors"

	"github.com/djlord-it/findingsd/internal/domain"
)

// ErrInvalidCondition is returned by Validate.
var ErrInvalidCondition = errors.New("invalid condition")

// Validate checks that every leaf uses a known operator. Evaluation does not
// require it; it lets subscription files fail loudly at load time.
func Validate(conditions []domain.Condition) error {
	for i, c := range conditions {
		if err := validate(c); err != nil {
			return errors.Wrapf(err, "condition %d", i)
		}
	}
	return nil
}

func validate(c domain.Condition) error {
	switch c.Kind {
	case domain.ConditionAnd, domain.ConditionOr:
		return Validate(c.Children)
	default:
		if c.Operator == "" {
			return errors.Wrap(ErrInvalidCondition, "missing operator")
		}
		if o := parseOperator(c.Operator); !baseOperators[o.base] {
			return errors.Wrapf(ErrInvalidCondition, "unknown operator %q", c.Operator)
		}
		return nil
	}
}
