// Package cron parses the schedules of cron subscriptions.
package cron

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// DefaultTimezone applies to subscriptions that do not name one.
const DefaultTimezone = "UTC"

// Parser accepts five-field expressions and descriptors such as @hourly.
type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse builds the schedule of expression evaluated in timezone. An empty
// timezone means DefaultTimezone.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron %q", expression)
	}

	if timezone == "" {
		timezone = DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrap(err, "load timezone")
	}

	return &schedule{sched: sched, loc: loc}, nil
}

// Validate reports whether expression is a schedule Parse accepts.
func (p *Parser) Validate(expression string) error {
	_, err := p.Parse(expression, DefaultTimezone)
	return err
}

type Schedule interface {
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}
