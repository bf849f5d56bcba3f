// Package filter decides whether incoming alert records are admitted to the
// feed, based on an ordered set of rule predicates loaded from filters.cfg.
//
// The engine fails open: if the rule file is missing or malformed, every
// record is admitted and the degradation is logged. Availability of the
// downstream feed is prioritized over strict filtering.
package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/cctl/boiler/internal/upstream"
)

// Matcher is one optional field constraint inside a rule. A nil Matcher
// means "no constraint, matches anything". The rule file accepts either a
// single scalar or a list of scalars.
type Matcher []string

// UnmarshalJSON accepts null, a scalar string, or an array of strings.
func (m *Matcher) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*m = Matcher{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	if many == nil {
		*m = nil
		return nil
	}
	*m = Matcher(many)
	return nil
}

// contains reports whether the matcher constrains to the given value.
// An unconstrained (nil) matcher matches everything.
func (m Matcher) contains(value string) bool {
	if m == nil {
		return true
	}
	for _, v := range m {
		if v == value {
			return true
		}
	}
	return false
}

// containsAny reports whether any of the given values satisfies the matcher.
func (m Matcher) containsAny(values []string) bool {
	if m == nil {
		return true
	}
	for _, v := range values {
		for _, want := range m {
			if v == want {
				return true
			}
		}
	}
	return false
}

// Rule is one named filter entry. Rules are evaluated in declared order;
// the first rule whose four matchers all succeed wins.
type Rule struct {
	Name        string
	Originators Matcher
	Events      Matcher
	FIPS        Matcher
	StationIDs  Matcher
	Allow       bool
}

// rulePayload is the on-disk shape of a rule body.
type rulePayload struct {
	Originators Matcher `json:"originators"`
	Events      Matcher `json:"events"`
	FIPS        Matcher `json:"fips"`
	StationIDs  Matcher `json:"station_ids"`
	Allow       *bool   `json:"allow"`
}

// RuleSet is an ordered list of rules. A nil or empty set admits everything.
type RuleSet []Rule

// ParseRuleSet decodes the filter configuration while preserving the
// declared rule order. encoding/json maps discard key order, so the outer
// object is walked token by token; the rule bodies still unmarshal normally.
func ParseRuleSet(data []byte) (RuleSet, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("rule file must be a JSON object, got %v", tok)
	}

	var rules RuleSet
	for dec.More() {
		nameTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("failed to read rule name: %w", err)
		}
		name, ok := nameTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v where rule name expected", nameTok)
		}

		var payload rulePayload
		if err := dec.Decode(&payload); err != nil {
			return nil, fmt.Errorf("failed to decode rule %q: %w", name, err)
		}

		rule := Rule{
			Name:        name,
			Originators: payload.Originators,
			Events:      payload.Events,
			FIPS:        payload.FIPS,
			StationIDs:  payload.StationIDs,
			Allow:       true,
		}
		if payload.Allow != nil {
			rule.Allow = *payload.Allow
		}
		rules = append(rules, rule)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("failed to read end of rule file: %w", err)
	}
	return rules, nil
}

// Engine evaluates records against the rule set at its configured path.
type Engine struct {
	path   string
	logger zerolog.Logger
}

// NewEngine creates a filter engine reading rules from the given path.
func NewEngine(path string, logger zerolog.Logger) *Engine {
	return &Engine{
		path:   path,
		logger: logger.With().Str("component", "filter").Logger(),
	}
}

// LoadRuleSet reads the rule file once per batch. It never fails outward:
// a missing or malformed file yields a nil set (admit everything) and a
// logged degradation.
func (e *Engine) LoadRuleSet() RuleSet {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		e.logger.Error().Err(err).Str("path", e.path).
			Msg("Rule file not readable, ignoring filters; all alerts will be placed on the feed")
		return nil
	}
	rules, err := ParseRuleSet(raw)
	if err != nil {
		e.logger.Error().Err(err).Str("path", e.path).
			Msg("Rule file could not be decoded, ignoring filters; all alerts will be placed on the feed")
		return nil
	}
	e.logger.Debug().Int("ruleCount", len(rules)).Msg("Rule file loaded")
	return rules
}

// Admit evaluates the record against the rules in declared order and
// returns the allow flag of the first fully matching rule. If no rule
// matches, the record is admitted.
func (e *Engine) Admit(rec upstream.Record, rules RuleSet) bool {
	station := rec.Station()

	for _, rule := range rules {
		if !rule.Originators.contains(rec.Originator) {
			continue
		}
		if !rule.Events.contains(rec.EventCode) {
			continue
		}
		if !rule.FIPS.containsAny(rec.FIPSCodes) {
			continue
		}
		if !rule.StationIDs.contains(station) {
			continue
		}

		if rule.Allow {
			e.logger.Info().Str("alertId", rec.ID).Str("rule", rule.Name).
				Msg("Alert matched ALLOW filter, it will be processed")
		} else {
			e.logger.Info().Str("alertId", rec.ID).Str("rule", rule.Name).
				Msg("Alert matched BLOCK filter, it will NOT be processed")
		}
		return rule.Allow
	}

	e.logger.Info().Str("alertId", rec.ID).Msg("Alert did not match any filters, it will be processed anyway")
	return true
}
