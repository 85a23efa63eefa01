// Prompt assembly for the generative policy. The wording is functional,
// not a contract: the decision contract is the two-field JSON reply.
package policy

import (
	"fmt"
	"strings"
)

// BuildSystemPrompt frames the agent's persona and the reply format.
func BuildSystemPrompt(obs Observation) string {
	return fmt.Sprintf(
		`You are %s, a %d-year-old living in %s. You work as a %s when employed.
Each month you decide two things about your household economy:
- whether to work this month ("work": 1 to work, 0 to stay home)
- what fraction of your available money to spend on consumption ("consumption": a number between 0 and 1)

Respond ONLY with a JSON object of the form {"work": 0 or 1, "consumption": 0.0-1.0}.`,
		obs.Name, obs.Age, obs.City, obs.Job)
}

// BuildDecisionPrompt describes the agent's situation for one month.
func BuildDecisionPrompt(obs Observation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Month %d.\n", obs.Step+1)
	if obs.Employed {
		fmt.Fprintf(&b, "You are employed as a %s.", obs.Job)
	} else if obs.OfferedJob != "" {
		fmt.Fprintf(&b, "You are unemployed, but have an offer to work as a %s.", obs.OfferedJob)
	} else {
		b.WriteString("You are unemployed.")
	}
	fmt.Fprintf(&b, " Working this month would pay about %.2f per hour.\n\n", obs.HourlyWage)

	fmt.Fprintf(&b, "Your savings: %.2f.\n", obs.Wealth)
	fmt.Fprintf(&b, "Your income last month: %.2f (the month before: %.2f).\n", obs.Income, obs.LastIncome)
	if obs.ConsumptionSpent > 0 {
		fmt.Fprintf(&b, "Last month you spent %.2f on consumption (%.0f%% of what you had).\n",
			obs.ConsumptionSpent, obs.ConsumptionFrac*100)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "The price of essential goods is %.2f", obs.Price)
	fmt.Fprintf(&b, " (%s over recent months).\n", trendWord(obs.PriceInflation))
	fmt.Fprintf(&b, "Wages have been %s.\n", trendWord(obs.WageInflation))
	fmt.Fprintf(&b, "The bank pays %.2f%% annual interest on savings.\n\n", obs.InterestRate*100)

	if len(obs.TaxBrackets) > 0 {
		b.WriteString("Income tax is progressive. Annualized brackets:\n")
		for i, br := range obs.TaxBrackets {
			if i+1 < len(obs.TaxBrackets) {
				fmt.Fprintf(&b, "- %.0f to %.0f: %.0f%%\n", br.Lower, obs.TaxBrackets[i+1].Lower, br.Rate*100)
			} else {
				fmt.Fprintf(&b, "- above %.0f: %.0f%%\n", br.Lower, br.Rate*100)
			}
		}
		b.WriteString("All tax collected is redistributed equally to every resident.\n\n")
	}

	b.WriteString(`What do you do this month? Reply with only {"work": 0 or 1, "consumption": 0.0-1.0}.`)
	return b.String()
}

// BuildReflectionPrompt asks for a look-back over recent months.
func BuildReflectionPrompt(obs Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Before deciding about month %d, look back over our recent exchanges.\n", obs.Step+1)
	b.WriteString("In two or three sentences: how have your work and spending choices worked out, ")
	b.WriteString("and what would you change going forward? Do not include a JSON decision in this reply.")
	return b.String()
}

func trendWord(change float64) string {
	switch {
	case change > 0.05:
		return "rising sharply"
	case change > 0.005:
		return "rising"
	case change < -0.05:
		return "falling sharply"
	case change < -0.005:
		return "falling"
	default:
		return "roughly flat"
	}
}
