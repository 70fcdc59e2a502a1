package account

import "strings"

// Plan is one subscription tier.
type Plan struct {
	// ID is the identifier sent to select_plan ("free", "pro", "business").
	ID string

	// Name is the display name.
	Name string

	// Responses is the number of chat replies included in the plan.
	Responses int
}

// Plans lists the tiers from lowest to highest. Users may only move up.
var Plans = []Plan{
	{ID: "free", Name: "Free Tier", Responses: 50},
	{ID: "pro", Name: "Pro Plan", Responses: 300},
	{ID: "business", Name: "Business Plan", Responses: 2000},
}

// LookupPlan finds a plan by ID, ignoring case.
func LookupPlan(id string) (Plan, bool) {
	i := planIndex(id)
	if i < 0 {
		return Plan{}, false
	}
	return Plans[i], true
}

// CanSelect reports whether a user on plan current may switch to target.
// Only strictly higher tiers are selectable; an unknown current plan is
// treated as free.
func CanSelect(current, target string) bool {
	t := planIndex(target)
	if t < 0 {
		return false
	}
	c := planIndex(current)
	if c < 0 {
		c = 0
	}
	return t > c
}

func planIndex(id string) int {
	id = strings.ToLower(strings.TrimSpace(id))
	for i, p := range Plans {
		if p.ID == id {
			return i
		}
	}
	return -1
}
