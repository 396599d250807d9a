package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adhocore/gronx"
)

// ValidateCron checks a five-field cron expression
// (minute hour day-of-month month day-of-week, Sunday=0). Asterisk, comma
// lists, hyphen ranges, and */N steps are allowed; a zero or negative step
// is not.
func ValidateCron(expr string) error {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	for _, field := range fields {
		for _, part := range strings.Split(field, ",") {
			if part == "" {
				return fmt.Errorf("empty list entry in field %q", field)
			}
			if strings.HasPrefix(part, "-") {
				return fmt.Errorf("invalid value %q in field %q", part, field)
			}
			if _, step, ok := strings.Cut(part, "/"); ok {
				n, err := strconv.Atoi(step)
				if err != nil || n <= 0 {
					return fmt.Errorf("invalid step %q in field %q", part, field)
				}
			}
		}
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression: %s", expr)
	}
	return nil
}
