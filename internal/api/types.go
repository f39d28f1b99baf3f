package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/usagevault/usagevault/internal/store"
)

// Window is a [start, end] date range in string-encoded epoch
// milliseconds, as the paginated events endpoint expects.
type Window struct {
	StartMillis string
	EndMillis   string
}

// windowEndingNow builds a window whose end is now and whose start is the
// given duration back.
func windowEndingNow(back time.Duration) Window {
	now := time.Now()
	return Window{
		StartMillis: strconv.FormatInt(now.Add(-back).UnixMilli(), 10),
		EndMillis:   strconv.FormatInt(now.UnixMilli(), 10),
	}
}

// rawTokenUsage is the nested token breakdown on token-based events.
type rawTokenUsage struct {
	InputTokens      int64   `json:"inputTokens"`
	OutputTokens     int64   `json:"outputTokens"`
	CacheWriteTokens int64   `json:"cacheWriteTokens"`
	CacheReadTokens  int64   `json:"cacheReadTokens"`
	TotalCents       float64 `json:"totalCents"`
}

// rawEvent is one usage event as the API returns it. Numeric and boolean
// fields the server omits default to zero/false; the cost comes as a
// currency string.
type rawEvent struct {
	Timestamp    string         `json:"timestamp"`
	Model        string         `json:"model"`
	Kind         string         `json:"kind"`
	MaxMode      *bool          `json:"maxMode"`
	RequestCost  *float64       `json:"requestCost"`
	UsageCost    string         `json:"usageBasedCost"`
	TokenUsage   *rawTokenUsage `json:"tokenUsage"`
	OwningUser   string         `json:"owningUser"`
	OwningTeam   string         `json:"owningTeam"`
	Fee          float64        `json:"fee"`
	IsChargeable bool           `json:"isChargeable"`
	IsHeadless   bool           `json:"isHeadless"`
}

// validate checks the fields the sync logic cannot do without.
func (r *rawEvent) validate() error {
	if r.Timestamp == "" {
		return fmt.Errorf("event missing timestamp")
	}
	if _, err := strconv.ParseInt(r.Timestamp, 10, 64); err != nil {
		return fmt.Errorf("event timestamp %q is not epoch milliseconds", r.Timestamp)
	}
	if r.Model == "" {
		return fmt.Errorf("event missing model")
	}
	return nil
}

// normalize coerces a raw event into a store row. Defensive by design:
// missing numerics are 0, missing booleans false, and an unparseable cost
// string reads as 0.
func (r *rawEvent) normalize(fetchedAt string) store.UsageEvent {
	ev := store.UsageEvent{
		Timestamp:        r.Timestamp,
		Model:            r.Model,
		Kind:             r.Kind,
		MaxMode:          r.MaxMode,
		RequestCost:      r.RequestCost,
		UsageCostDollars: parseCurrency(r.UsageCost),
		OwningUser:       r.OwningUser,
		OwningTeam:       r.OwningTeam,
		Fee:              r.Fee,
		IsChargeable:     r.IsChargeable,
		IsHeadless:       r.IsHeadless,
		FetchedAt:        fetchedAt,
	}

	if r.TokenUsage != nil {
		ev.IsTokenBased = true
		ev.InputTokens = r.TokenUsage.InputTokens
		ev.OutputTokens = r.TokenUsage.OutputTokens
		ev.CacheWriteTokens = r.TokenUsage.CacheWriteTokens
		ev.CacheReadTokens = r.TokenUsage.CacheReadTokens
		ev.TokenCostCents = r.TokenUsage.TotalCents
	}

	return ev
}

// parseCurrency parses cost strings like "$0.08". "-", "", and anything
// unparseable read as 0.
func parseCurrency(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" || s == "-" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// eventsResponse is the paginated events payload.
type eventsResponse struct {
	TotalCount  *int        `json:"totalUsageEventsCount"`
	UsageEvents []*rawEvent `json:"usageEvents"`
}

// rawBreakdown is the plan's included/bonus/total sub-object.
type rawBreakdown struct {
	Included *float64 `json:"included"`
	Bonus    *float64 `json:"bonus"`
	Total    *float64 `json:"total"`
}

// rawPlan is the summary's plan sub-object.
type rawPlan struct {
	Used      *float64      `json:"used"`
	Limit     *float64      `json:"limit"`
	Remaining *float64      `json:"remaining"`
	Breakdown *rawBreakdown `json:"breakdown"`
}

// rawOnDemand is a used/limit pair.
type rawOnDemand struct {
	Used  *float64 `json:"used"`
	Limit *float64 `json:"limit"`
}

// rawCycle is the billing cycle bounds.
type rawCycle struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// summaryResponse is the usage summary payload. The plan, breakdown,
// on-demand, and cycle sub-objects are required: a summary with silently
// zeroed limits would be worse than an explicit failure.
type summaryResponse struct {
	BillingCycle *rawCycle    `json:"billingCycle"`
	Plan         *rawPlan     `json:"plan"`
	OnDemand     *rawOnDemand `json:"onDemand"`
	TeamOnDemand *rawOnDemand `json:"teamOnDemand"`
}

// validate enforces the required structure.
func (r *summaryResponse) validate() error {
	if r.BillingCycle == nil {
		return fmt.Errorf("summary missing billingCycle")
	}
	if r.Plan == nil {
		return fmt.Errorf("summary missing plan")
	}
	if r.Plan.Breakdown == nil {
		return fmt.Errorf("summary missing plan.breakdown")
	}
	if r.OnDemand == nil {
		return fmt.Errorf("summary missing onDemand")
	}
	return nil
}

// normalize converts a validated summary into a store row. Within required
// sub-objects, individual missing numbers still default to 0.
func (r *summaryResponse) normalize(fetchedAt string) *store.UsageSummary {
	sum := &store.UsageSummary{
		CycleStart:    r.BillingCycle.Start,
		CycleEnd:      r.BillingCycle.End,
		PlanUsed:      deref(r.Plan.Used),
		PlanLimit:     deref(r.Plan.Limit),
		PlanRemaining: deref(r.Plan.Remaining),
		PlanIncluded:  deref(r.Plan.Breakdown.Included),
		PlanBonus:     deref(r.Plan.Breakdown.Bonus),
		PlanTotal:     deref(r.Plan.Breakdown.Total),
		OnDemandUsed:  deref(r.OnDemand.Used),
		OnDemandLimit: deref(r.OnDemand.Limit),
		FetchedAt:     fetchedAt,
	}
	if r.TeamOnDemand != nil {
		sum.TeamOnDemandUsed = deref(r.TeamOnDemand.Used)
		sum.TeamOnDemandLimit = deref(r.TeamOnDemand.Limit)
	}
	return sum
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

// identityResponse is the authenticated-principal payload.
type identityResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (r *identityResponse) validate() error {
	if r.ID == "" && r.Email == "" {
		return fmt.Errorf("identity missing both id and email")
	}
	return nil
}

// teamsResponse is the team list payload.
type teamsResponse struct {
	Teams []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"teams"`
}

// teamDetailsResponse is the per-team member payload.
type teamDetailsResponse struct {
	TeamMembers []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Role string `json:"role"`
	} `json:"teamMembers"`
}
