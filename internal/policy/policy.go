// Package policy holds the configurable tables the workflow engine and its
// collaborators consult: alert thresholds, SLA hour budgets and the reopen
// rules. Every value has a default and can be overridden through viper.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joescharf/bugflow/internal/models"
)

// AlertClass names an alert axis.
type AlertClass string

const (
	ClassUnassigned AlertClass = "unassigned"
	ClassStale      AlertClass = "stale"
	// ClassCriticalClosure has a single threshold: a Critical bug waiting
	// in Ready For Closure longer than it is alerted at the top level.
	ClassCriticalClosure AlertClass = "critical_closure"
)

// Tiers maps severity tiers to elapsed-time thresholds. A value must be
// strictly greater than a threshold to reach that tier.
type Tiers struct {
	Low    time.Duration `json:"low"`
	Medium time.Duration `json:"medium"`
	High   time.Duration `json:"high"`
}

// Thresholds holds the tiered alert classes and the critical closure limit.
type Thresholds struct {
	Tiered          map[AlertClass]Tiers `json:"tiered"`
	CriticalClosure time.Duration        `json:"criticalClosure"`
}

// For returns the tiers of a tiered class.
func (t Thresholds) For(class AlertClass) Tiers {
	return t.Tiered[class]
}

// SLA holds the allowed hours per priority for development and validation work.
type SLA struct {
	Developer map[models.Priority]float64 `json:"developer"`
	Tester    map[models.Priority]float64 `json:"tester"`
}

// Allowed returns the hour budget for role and priority, and whether one is configured.
func (s SLA) Allowed(role models.Role, p models.Priority) (float64, bool) {
	var table map[models.Priority]float64
	switch role {
	case models.RoleDeveloper:
		table = s.Developer
	case models.RoleTester:
		table = s.Tester
	}
	h, ok := table[p]
	return h, ok
}

// Reopen governs when a closed bug may be asked to reopen.
type Reopen struct {
	// Window is how long after closure a reopen may be requested. Zero disables the limit.
	Window time.Duration `json:"window"`
	// Single forbids requesting a reopen for a bug that was reopened before.
	Single bool `json:"single"`
}

// Policy bundles every table.
type Policy struct {
	Thresholds Thresholds `json:"thresholds"`
	SLA        SLA        `json:"sla"`
	Reopen     Reopen     `json:"reopen"`
}

// Default returns the policy used when nothing is configured.
func Default() *Policy {
	return &Policy{
		Thresholds: Thresholds{
			Tiered: map[AlertClass]Tiers{
				ClassUnassigned: {Low: 30 * time.Minute, Medium: 60 * time.Minute, High: 120 * time.Minute},
				ClassStale:      {Low: 6 * time.Hour, Medium: 12 * time.Hour, High: 24 * time.Hour},
			},
			CriticalClosure: 2 * time.Hour,
		},
		SLA: SLA{
			Developer: map[models.Priority]float64{
				models.PriorityCritical: 6,
				models.PriorityHigh:     9,
				models.PriorityMedium:   3,
				models.PriorityLow:      1,
			},
			Tester: map[models.Priority]float64{
				models.PriorityCritical: 4,
				models.PriorityHigh:     5,
				models.PriorityMedium:   2,
				models.PriorityLow:      1,
			},
		},
		Reopen: Reopen{
			Window: 7 * 24 * time.Hour,
			Single: true,
		},
	}
}

// SetDefaults registers every policy key on v so that config show and
// environment overrides see them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	for class, tiers := range d.Thresholds.Tiered {
		v.SetDefault(thresholdKey(class, "low"), tiers.Low.String())
		v.SetDefault(thresholdKey(class, "medium"), tiers.Medium.String())
		v.SetDefault(thresholdKey(class, "high"), tiers.High.String())
	}
	v.SetDefault(criticalClosureKey, d.Thresholds.CriticalClosure.String())
	for p, h := range d.SLA.Developer {
		v.SetDefault(slaKey(models.RoleDeveloper, p), h)
	}
	for p, h := range d.SLA.Tester {
		v.SetDefault(slaKey(models.RoleTester, p), h)
	}
	v.SetDefault("reopen.window", d.Reopen.Window.String())
	v.SetDefault("reopen.single", d.Reopen.Single)
}

// Load reads the policy from v, falling back to defaults for missing keys,
// and validates it.
func Load(v *viper.Viper) (*Policy, error) {
	d := Default()
	p := &Policy{
		Thresholds: Thresholds{Tiered: map[AlertClass]Tiers{}},
		SLA: SLA{
			Developer: map[models.Priority]float64{},
			Tester:    map[models.Priority]float64{},
		},
	}

	for class, def := range d.Thresholds.Tiered {
		p.Thresholds.Tiered[class] = Tiers{
			Low:    durationOr(v, thresholdKey(class, "low"), def.Low),
			Medium: durationOr(v, thresholdKey(class, "medium"), def.Medium),
			High:   durationOr(v, thresholdKey(class, "high"), def.High),
		}
	}
	p.Thresholds.CriticalClosure = durationOr(v, criticalClosureKey, d.Thresholds.CriticalClosure)
	for _, pr := range models.Priorities {
		p.SLA.Developer[pr] = floatOr(v, slaKey(models.RoleDeveloper, pr), d.SLA.Developer[pr])
		p.SLA.Tester[pr] = floatOr(v, slaKey(models.RoleTester, pr), d.SLA.Tester[pr])
	}
	p.Reopen.Window = durationOr(v, "reopen.window", d.Reopen.Window)
	p.Reopen.Single = d.Reopen.Single
	if v.IsSet("reopen.single") {
		p.Reopen.Single = v.GetBool("reopen.single")
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks that thresholds ascend and budgets are non-negative.
func (p *Policy) Validate() error {
	for class, t := range p.Thresholds.Tiered {
		if t.Low <= 0 || t.Medium <= t.Low || t.High <= t.Medium {
			return fmt.Errorf("alerts.%s: thresholds must ascend low < medium < high (got %s, %s, %s)", class, t.Low, t.Medium, t.High)
		}
	}
	if p.Thresholds.CriticalClosure <= 0 {
		return fmt.Errorf("%s: must be positive (got %s)", criticalClosureKey, p.Thresholds.CriticalClosure)
	}
	for pr, h := range p.SLA.Developer {
		if h < 0 {
			return fmt.Errorf("sla.developer.%s: negative budget %v", strings.ToLower(string(pr)), h)
		}
	}
	for pr, h := range p.SLA.Tester {
		if h < 0 {
			return fmt.Errorf("sla.tester.%s: negative budget %v", strings.ToLower(string(pr)), h)
		}
	}
	if p.Reopen.Window < 0 {
		return fmt.Errorf("reopen.window: must not be negative")
	}
	return nil
}

const criticalClosureKey = "alerts." + string(ClassCriticalClosure)

func thresholdKey(class AlertClass, tier string) string {
	return "alerts." + string(class) + "." + tier
}

func slaKey(role models.Role, p models.Priority) string {
	return "sla." + string(role) + "." + strings.ToLower(string(p))
}

func durationOr(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	return v.GetDuration(key)
}

func floatOr(v *viper.Viper, key string, def float64) float64 {
	if !v.IsSet(key) {
		return def
	}
	return v.GetFloat64(key)
}
