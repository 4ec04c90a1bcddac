package bill

// Totals is the derived settlement view of a ledger. PerPerson has an
// entry for every current participant, zero when nothing is assigned to
// them. Amounts keep full floating precision; rounding happens only at
// presentation time.
type Totals struct {
	PerPerson  map[int]float64
	GrandTotal float64
	Unassigned float64
}

// ComputeTotals performs the even-split arithmetic over a ledger
// snapshot. Each item's price is divided evenly across its assignees;
// unassigned items accumulate into Unassigned. The function is pure and
// recomputes from scratch on every call, which is fine at bill scale.
func ComputeTotals(items []Item, participants []Participant) Totals {
	perPerson := make(map[int]float64, len(participants))
	for _, p := range participants {
		perPerson[p.ID] = 0
	}

	var grandTotal, unassigned float64
	for _, item := range items {
		grandTotal += item.Price

		if len(item.AssignedTo) == 0 {
			unassigned += item.Price
			continue
		}

		share := item.Price / float64(len(item.AssignedTo))
		for _, pid := range item.AssignedTo {
			if _, ok := perPerson[pid]; ok {
				perPerson[pid] += share
			}
		}
	}

	return Totals{
		PerPerson:  perPerson,
		GrandTotal: grandTotal,
		Unassigned: unassigned,
	}
}
