package risk

import (
	"fmt"
	"math"
	"strings"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	// PlannedLoss is in account currency; PlannedRiskPct is a fraction of
	// equity.
	PlannedLoss    float64
	PlannedRiskPct float64
	PlannedRR      float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason joins the violation messages.
func (d Decision) Reason() string {
	msgs := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		msgs[i] = v.Msg
	}
	return strings.Join(msgs, "; ")
}

// CheckPlan is the last look at a sized order: planned loss at the stop,
// reward/risk and the margin it would consume.
func CheckPlan(p PlanPolicy, plan Plan, acct AccountSnapshot) Decision {
	d := Decision{Allowed: true}

	if plan.Stop == 0 || plan.Entry == 0 {
		d.add("NO_STOP_OR_ENTRY", "entry/stop must be set")
		return d
	}
	if plan.Units == 0 {
		d.add("NO_UNITS", "units must be non-zero")
		return d
	}

	stopDist := math.Abs(plan.Entry - plan.Stop)
	if stopDist == 0 {
		d.add("NO_STOP_OR_ENTRY", "stop equals entry")
		return d
	}
	d.PlannedLoss = math.Abs(plan.Units) * stopDist * plan.QuoteToAccount
	d.PlannedRiskPct = math.Inf(1)
	if acct.Equity > 0 {
		d.PlannedRiskPct = d.PlannedLoss / acct.Equity
	}
	if plan.TakeProfit != 0 {
		d.PlannedRR = math.Abs(plan.TakeProfit-plan.Entry) / stopDist
	}

	if p.MaxRiskPct > 0 && d.PlannedRiskPct > p.MaxRiskPct {
		d.add("RISK_TOO_HIGH",
			fmt.Sprintf("planned risk %.2f%% exceeds max %.2f%%",
				100*d.PlannedRiskPct, 100*p.MaxRiskPct))
	}
	if p.MinRR > 0 && plan.TakeProfit != 0 && d.PlannedRR < p.MinRR {
		d.add("RR_TOO_LOW",
			fmt.Sprintf("RR %.2f below minimum %.2f", d.PlannedRR, p.MinRR))
	}

	if p.MaxMarginPct > 0 && acct.Equity > 0 && plan.MarginRate > 0 {
		margin := plan.Units * plan.Entry * plan.QuoteToAccount * plan.MarginRate
		if used := (acct.MarginUsed + margin) / acct.Equity; used > p.MaxMarginPct {
			d.add("MARGIN_TOO_HIGH",
				fmt.Sprintf("margin after order %.2f%% exceeds max %.2f%%",
					100*used, 100*p.MaxMarginPct))
		}
	}
	return d
}
