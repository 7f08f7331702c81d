package suppression

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Reasons appended to RedactBreakdown.
const (
	ReasonUserRequested = "User-requested redaction"
	ReasonSum           = "Sum of values less than threshold"
	ReasonSingleton     = "One count redacted leading to secondary suppression"
	ReasonResidual      = "Redacting zeroes or other remaining values missed in one count function"
	ReasonCrossLevel    = "Redacting based on aggregate level redaction"
)

// Rule names used in statistics and logs.
const (
	RuleUserRequested = "user_requested"
	RulePrimary       = "primary"
	RuleSum           = "sum"
	RuleSingleton     = "singleton"
	RuleResidual      = "residual_singleton"
	RuleCrossDown     = "cross_level_down"
	RuleCrossUp       = "cross_level_up"
)

// PrimaryReason is the breakdown entry for the threshold rule.
func PrimaryReason(threshold int, redactZero bool) string {
	if redactZero {
		return fmt.Sprintf("Less Than or equal to %d or zero", threshold)
	}
	return fmt.Sprintf("Less Than or equal to %d and not equal to zero", threshold)
}

// PipelineOptions controls how often the secondary passes run.
type PipelineOptions struct {
	Converge      bool
	MaxIterations int
}

// PipelineStats counts what each rule did.
type PipelineStats struct {
	Iterations int            `json:"iterations"`
	Firings    map[string]int `json:"firings"`
}

// partitionRule is a secondary rule evaluated per (grouping, organization,
// combination) partition.
type partitionRule struct {
	name     string
	reason   string
	leafOnly bool
	fires    func(suppressed []*Cell, threshold int) bool
	eligible func(c *Cell) bool
}

var (
	sumRule = partitionRule{
		name:   RuleSum,
		reason: ReasonSum,
		fires: func(suppressed []*Cell, threshold int) bool {
			total := 0
			for _, c := range suppressed {
				total += c.Frequency
			}
			return total <= threshold
		},
		// a hidden zero adds nothing to the hidden total
		eligible: func(c *Cell) bool { return c.Frequency != 0 },
	}
	singletonRule = partitionRule{
		name:     RuleSingleton,
		reason:   ReasonSingleton,
		fires:    exactlyOne,
		eligible: func(c *Cell) bool { return c.Frequency != 0 },
	}
	residualRule = partitionRule{
		name:   RuleResidual,
		reason: ReasonResidual,
		fires:  exactlyOne,
	}
	crossUpRule = partitionRule{
		name:     RuleCrossUp,
		reason:   ReasonCrossLevel,
		leafOnly: true,
		fires:    exactlyOne,
	}
)

func exactlyOne(suppressed []*Cell, _ int) bool {
	return len(suppressed) == 1
}

// pipeline owns the log for the duration of one run.
type pipeline struct {
	log        *RedactionLog
	partitions []Combination
	opts       PipelineOptions
	stats      *PipelineStats
	logger     *logrus.Entry
}

// RunPipeline applies the suppression passes to log in order. Each pass sees
// the flags left by the previous one. Within one step of a rule, every
// partition is evaluated against the same state and the selected cells are
// marked together, so the outcome does not depend on cell order.
func RunPipeline(log *RedactionLog, opts PipelineOptions, logger *logrus.Logger) *PipelineStats {
	if logger == nil {
		logger = logrus.New()
	}
	p := &pipeline{
		log:        log,
		partitions: PartitionCombinations(len(log.Schema.Sensitive)),
		opts:       opts,
		stats:      &PipelineStats{Firings: make(map[string]int)},
		logger: logger.WithFields(logrus.Fields{
			"frequency_column": log.Schema.Frequency.Name,
			"threshold":        log.Schema.Threshold,
		}),
	}

	p.record(RuleUserRequested, p.userRequested())
	p.record(RulePrimary, p.primary())

	limit := opts.MaxIterations
	if limit <= 0 {
		limit = 1
	}
	for {
		p.stats.Iterations++
		changed := p.secondary()
		if !opts.Converge || changed == 0 || p.stats.Iterations >= limit {
			if opts.Converge && changed > 0 {
				p.logger.WithField("iterations", p.stats.Iterations).
					Warn("Secondary suppression did not converge within the iteration limit")
			}
			break
		}
	}
	return p.stats
}

func (p *pipeline) record(rule string, n int) {
	p.stats.Firings[rule] += n
	if n > 0 {
		p.logger.WithFields(logrus.Fields{
			"rule":       rule,
			"suppressed": n,
		}).Debug("Suppression rule applied")
	}
}

// secondary runs one sequence of the structural passes and returns how many
// cells became suppressed.
func (p *pipeline) secondary() int {
	changed := 0
	for _, rule := range []partitionRule{sumRule, singletonRule, residualRule} {
		n := p.applyPartitionRule(rule)
		p.record(rule.name, n)
		changed += n
	}

	n := p.propagateDown()
	p.record(RuleCrossDown, n)
	changed += n

	n = p.applyPartitionRule(crossUpRule)
	p.record(crossUpRule.name, n)
	return changed + n
}

func (p *pipeline) userRequested() int {
	n := 0
	for _, c := range p.log.Cells {
		if c.Detail && c.UserRequested && c.mark(UserRequested, ReasonUserRequested) {
			n++
		}
	}
	return n
}

func (p *pipeline) primary() int {
	s := p.log.Schema
	reason := PrimaryReason(s.Threshold, s.RedactZero)
	n := 0
	for _, c := range p.log.Cells {
		if c.Frequency > s.Threshold {
			continue
		}
		if c.Frequency == 0 && !s.RedactZero {
			continue
		}
		if c.Redact == UserRequested {
			continue
		}
		if c.mark(PrimarySuppression, reason) {
			n++
		}
	}
	return n
}

// partitionPositions is the organization positions plus the combination's.
func (p *pipeline) partitionPositions(c Combination) []int {
	s := p.log.Schema
	return append(s.organizationPositions(), s.sensitivePositions(c)...)
}

func (p *pipeline) applyPartitionRule(rule partitionRule) int {
	n := 0
	for _, combo := range p.partitions {
		positions := p.partitionPositions(combo)
		groups := make(map[string][]*Cell)
		var order []string
		for _, c := range p.log.Cells {
			if rule.leafOnly && c.Grouping != 0 {
				continue
			}
			id := partitionID(c, positions)
			if _, ok := groups[id]; !ok {
				order = append(order, id)
			}
			groups[id] = append(groups[id], c)
		}

		var selected []*Cell
		for _, id := range order {
			cells := groups[id]
			var suppressed []*Cell
			for _, c := range cells {
				if c.Suppressed() {
					suppressed = append(suppressed, c)
				}
			}
			if len(suppressed) == 0 || !rule.fires(suppressed, p.log.Schema.Threshold) {
				continue
			}
			selected = append(selected, cheapest(cells, rule.eligible)...)
		}
		for _, c := range selected {
			if c.mark(SecondarySuppression, rule.reason) {
				n++
			}
		}
	}
	return n
}

// propagateDown hides, for every suppressed coarser cell, the cheapest
// unsuppressed cells that share its organization and combination values.
func (p *pipeline) propagateDown() int {
	n := 0
	for _, combo := range p.partitions {
		positions := p.partitionPositions(combo)
		targets := make(map[string]bool)
		for _, c := range p.log.Cells {
			if c.Grouping > 0 && c.Suppressed() && c.Key.Covers(positions) {
				targets[c.Key.encode(positions)] = true
			}
		}
		if len(targets) == 0 {
			continue
		}

		groups := make(map[string][]*Cell)
		var order []string
		for _, c := range p.log.Cells {
			if c.Suppressed() || !c.Key.Covers(positions) {
				continue
			}
			id := c.Key.encode(positions)
			if !targets[id] {
				continue
			}
			if _, ok := groups[id]; !ok {
				order = append(order, id)
			}
			groups[id] = append(groups[id], c)
		}

		var selected []*Cell
		for _, id := range order {
			selected = append(selected, cheapest(groups[id], nil)...)
		}
		for _, c := range selected {
			if c.mark(SecondarySuppression, ReasonCrossLevel) {
				n++
			}
		}
	}
	return n
}

// cheapest returns every unsuppressed eligible cell holding the smallest
// frequency. Ties are all returned.
func cheapest(cells []*Cell, eligible func(*Cell) bool) []*Cell {
	lowest := -1
	for _, c := range cells {
		if c.Suppressed() || (eligible != nil && !eligible(c)) {
			continue
		}
		if lowest < 0 || c.Frequency < lowest {
			lowest = c.Frequency
		}
	}
	if lowest < 0 {
		return nil
	}
	var out []*Cell
	for _, c := range cells {
		if !c.Suppressed() && (eligible == nil || eligible(c)) && c.Frequency == lowest {
			out = append(out, c)
		}
	}
	return out
}
