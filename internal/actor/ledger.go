package actor

import "sort"

// LedgerEntry is one attacker's cumulative contribution.
type LedgerEntry struct {
	Attacker string  `json:"attacker"`
	Damage   float64 `json:"damage"`
}

// DamageLedger accumulates damage dealt per attacker. Entries only grow
// until Clear is called.
type DamageLedger struct {
	totals map[string]float64
}

func (l *DamageLedger) Record(attacker string, amount float64) {
	if attacker == "" || !(amount > 0) {
		return
	}
	if l.totals == nil {
		l.totals = make(map[string]float64)
	}
	l.totals[attacker] += amount
}

func (l *DamageLedger) Total(attacker string) float64 {
	return l.totals[attacker]
}

// Sum is the damage recorded across all attackers.
func (l *DamageLedger) Sum() float64 {
	var sum float64
	for _, v := range l.totals {
		sum += v
	}
	return sum
}

func (l *DamageLedger) Len() int {
	return len(l.totals)
}

// Top returns up to n entries ranked by damage, highest first. n <= 0
// returns every entry.
func (l *DamageLedger) Top(n int) []LedgerEntry {
	if len(l.totals) == 0 {
		return nil
	}
	entries := make([]LedgerEntry, 0, len(l.totals))
	for attacker, damage := range l.totals {
		entries = append(entries, LedgerEntry{Attacker: attacker, Damage: damage})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Damage != entries[j].Damage {
			return entries[i].Damage > entries[j].Damage
		}
		return entries[i].Attacker < entries[j].Attacker
	})
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}

func (l *DamageLedger) Clear() {
	l.totals = nil
}
