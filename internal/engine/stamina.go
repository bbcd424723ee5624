package engine

import "github.com/playperu/grandtour/internal/grandtour"

// NextStamina applies one stage of effort to a rider. Sprinting costs one
// point and never drops below zero, even for an already exhausted rider.
// Cruising restores one point only while synergyBefore, the team synergy
// before this stage, is at or above the recovery threshold.
func NextStamina(current int, c grandtour.Choice, synergyBefore int) int {
	next := current
	switch c {
	case grandtour.Sprint:
		next = current - 1
	case grandtour.Cruise:
		if synergyBefore >= grandtour.StaminaRecoveryThreshold {
			next = current + 1
		}
	}
	return grandtour.ClampStamina(next)
}

// NextSynergy applies a synergy delta, bounded to [0, 100].
func NextSynergy(current, delta int) int {
	return grandtour.ClampSynergy(current + delta)
}
