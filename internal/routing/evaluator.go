package routing

import (
	"github.com/maxiofs/storehub/internal/provider"
	"github.com/sirupsen/logrus"
)

// Stage names the step of the selection that produced a decision
type Stage string

const (
	StageRules    Stage = "rules"
	StageRuleFree Stage = "rule_free"
	StageDefault  Stage = "default"
)

// ProviderSource supplies a consistent snapshot of providers in registration order
type ProviderSource interface {
	List() []*provider.StorageProvider
}

// Recorder observes routing decisions
type Recorder interface {
	RecordRoutingDecision(providerID string, stage string)
}

// Decision is the outcome of a selection
type Decision struct {
	Provider *provider.StorageProvider `json:"-"`
	Stage    Stage                     `json:"stage"`
}

// Evaluator selects the provider that receives a file
type Evaluator struct {
	source   ProviderSource
	recorder Recorder
}

// NewEvaluator creates an evaluator over source; recorder may be nil
func NewEvaluator(source ProviderSource, recorder Recorder) *Evaluator {
	return &Evaluator{source: source, recorder: recorder}
}

// SelectProvider returns the provider for c.
//
// Only enabled providers with usable credentials are considered. Providers
// whose rules all match win first; when none match, providers without rules
// are considered; the default provider is the last resort. Within a stage
// the highest priority wins and ties go to the earliest registered provider.
func (e *Evaluator) SelectProvider(c Candidate) (*provider.StorageProvider, error) {
	d, err := e.Decide(c)
	if err != nil {
		return nil, err
	}
	return d.Provider, nil
}

// Decide is SelectProvider with the selection stage attached
func (e *Evaluator) Decide(c Candidate) (Decision, error) {
	c = c.Normalize()
	snapshot := e.source.List()

	var ruleMatch, ruleFree, fallback, def *provider.StorageProvider
	for _, p := range snapshot {
		if !p.Routable() {
			continue
		}
		if p.IsDefault {
			def = p
		}
		fallback = better(fallback, p)

		if p.HasRules() {
			if Matches(p.RoutingRules, c) {
				ruleMatch = better(ruleMatch, p)
			}
		} else {
			ruleFree = better(ruleFree, p)
		}
	}

	var d Decision
	switch {
	case ruleMatch != nil:
		d = Decision{Provider: ruleMatch, Stage: StageRules}
	case ruleFree != nil:
		d = Decision{Provider: ruleFree, Stage: StageRuleFree}
	case def != nil:
		d = Decision{Provider: def, Stage: StageDefault}
	case fallback != nil:
		// no default flag is set; take the best usable provider rather than fail
		d = Decision{Provider: fallback, Stage: StageDefault}
	default:
		logrus.WithField("providers", len(snapshot)).Error("No enabled storage provider available for routing")
		return Decision{}, provider.ErrNoProviderAvailable
	}

	if e.recorder != nil {
		e.recorder.RecordRoutingDecision(d.Provider.ID, string(d.Stage))
	}

	logrus.WithFields(logrus.Fields{
		"extension":   c.Extension,
		"mime_type":   c.MimeType,
		"size":        c.SizeBytes,
		"provider_id": d.Provider.ID,
		"stage":       d.Stage,
	}).Debug("Routing decision")

	return d, nil
}

// better keeps current unless next has a strictly higher priority; the
// snapshot is in registration order so ties stay with the earlier provider
func better(current, next *provider.StorageProvider) *provider.StorageProvider {
	if current == nil || next.RoutingPriority > current.RoutingPriority {
		return next
	}
	return current
}
