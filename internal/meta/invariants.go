package meta

import "fmt"

// CheckInvariants re-verifies a subset of spec.md §8's invariants against
// the committed store. It is expensive (full bitmap scan) and is only
// ever called when internal/config.Config.StrictInvariant is set.
func (m *Meta) CheckInvariants(sb *SuperBlock) error {
	if err := m.checkImapSummary(sb); err != nil {
		return err
	}
	return m.checkPendingDisjoint()
}

// checkImapSummary verifies invariant 2: imap_sum[g] == 1 iff imap_<g>
// has any free (clear) bit.
func (m *Meta) checkImapSummary(sb *SuperBlock) error {
	sumVal, found, err := m.get([]byte(imapSumKey))
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	sum := bitset(sumVal)

	for g := uint64(0); g < sb.GroupCount; g++ {
		groupVal, found, err := m.get(imapGroupKey(g))
		if err != nil {
			return err
		}
		var group bitset
		if found {
			group = bitset(groupVal)
		} else {
			group = newBitset(sb.GroupSize)
		}

		hasFree := group.anyClear(sb.GroupSize)
		if hasFree != sum.get(g) {
			return fmt.Errorf("invariant violated: imap_sum[%d]=%v but group anyClear=%v", g, sum.get(g), hasFree)
		}
	}
	return nil
}

// checkPendingDisjoint verifies invariant 4: no key appears in both
// pending.puts and pending.dels simultaneously.
func (m *Meta) checkPendingDisjoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.pending.puts {
		if _, ok := m.pending.dels[k]; ok {
			return fmt.Errorf("invariant violated: key %q pending in both puts and dels", k)
		}
	}
	return nil
}
