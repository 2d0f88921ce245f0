package models

// RiskLevel grades a tool under the traffic-light protocol: green tools are
// read-only and safe to run unattended, yellow tools make reversible
// mutations, red tools can destroy state or touch production.
type RiskLevel string

const (
	RiskGreen  RiskLevel = "green"
	RiskYellow RiskLevel = "yellow"
	RiskRed    RiskLevel = "red"
)

// ParseRiskLevel normalizes a risk string. Anything unrecognized is treated
// as red: unknown risk is maximum risk.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskGreen, RiskYellow:
		return RiskLevel(s)
	default:
		return RiskRed
	}
}
