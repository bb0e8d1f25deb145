package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Schedule decides from a cron expression whether the companion is awake.
// Outside the schedule face and speech initiation are suppressed.
type Schedule struct {
	expr string
	cron *gronx.Gronx
}

func NewSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		expr = "* * * * *"
	}
	cron := gronx.New()
	if !cron.IsValid(expr) {
		return nil, fmt.Errorf("invalid awake schedule %q", expr)
	}
	return &Schedule{expr: expr, cron: cron}, nil
}

func (s *Schedule) Expr() string {
	return s.expr
}

// Awake reports whether t falls inside the schedule. Evaluation errors keep
// the companion awake.
func (s *Schedule) Awake(t time.Time) bool {
	if s == nil {
		return true
	}
	due, err := s.cron.IsDue(s.expr, t)
	if err != nil {
		return true
	}
	return due
}
