package combat

// ReadyCooldown reports whether ability may trigger at tick and, when it can,
// records tick as the latest trigger. The registry map is allocated lazily.
// A zero cooldown always allows.
func ReadyCooldown(cooldowns *map[string]uint64, ability string, cooldownTicks uint64, tick uint64) bool {
	if cooldowns == nil {
		return false
	}
	if *cooldowns == nil {
		*cooldowns = make(map[string]uint64)
	}
	if cooldownTicks > 0 {
		if last, ok := (*cooldowns)[ability]; ok {
			if tick < last || tick-last < cooldownTicks {
				return false
			}
		}
	}
	(*cooldowns)[ability] = tick
	return true
}

// CooldownRemaining returns how many ticks remain before ability is ready.
func CooldownRemaining(cooldowns map[string]uint64, ability string, cooldownTicks uint64, tick uint64) uint64 {
	last, ok := cooldowns[ability]
	if !ok || cooldownTicks == 0 {
		return 0
	}
	if tick < last {
		return cooldownTicks
	}
	elapsed := tick - last
	if elapsed >= cooldownTicks {
		return 0
	}
	return cooldownTicks - elapsed
}
