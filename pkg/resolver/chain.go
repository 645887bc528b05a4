package resolver

import (
	"fmt"
	"sort"
	"strings"

	fc "github.com/gofhir/codegen"
	"github.com/gofhir/codegen/pkg/definition"
)

// chain returns the inheritance chain of start, building and memoizing it
// on first use. Concurrent walks may build the same chain twice; the memo
// keeps whichever lands first.
func (r *resolver) chain(start Ref) chainResult {
	r.mu.Lock()
	if cr, ok := r.chains[start.URL]; ok {
		r.mu.Unlock()
		return cr
	}
	r.mu.Unlock()

	var (
		walk     []Ref
		visiting = make(map[string]int)
		tail     chainResult
		cur      = start
	)
	for {
		if idx, seen := visiting[cur.URL]; seen {
			members := make([]string, 0, len(walk)-idx)
			for _, ref := range walk[idx:] {
				members = append(members, ref.URL)
			}
			r.reportCycle(members)
			// Everything on the cycle fails; the types that lead into it
			// fail with it.
			tail = chainResult{failed: true}
			break
		}

		r.mu.Lock()
		cr, ok := r.chains[cur.URL]
		r.mu.Unlock()
		if ok {
			tail = cr
			break
		}

		visiting[cur.URL] = len(walk)
		walk = append(walk, cur)

		rec := r.recordOf(cur)
		if rec == nil || rec.BaseDefinition == "" {
			break
		}
		next, found := r.lookup(rec.BaseDefinition)
		if !found {
			r.diags.Add(fc.Errorf(fc.KindUnresolvedReference).
				Message(fmt.Sprintf("base definition %q does not resolve", rec.BaseDefinition)).
				Source(rec.URL).Subject(rec.BaseDefinition).Build())
			break
		}
		cur = next
	}

	// Memoize every suffix of the walk.
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(walk) - 1; i >= 0; i-- {
		var res chainResult
		if tail.failed {
			res = chainResult{failed: true}
		} else {
			res.chain = make([]Ref, 0, len(walk)-i+len(tail.chain))
			res.chain = append(res.chain, walk[i:]...)
			res.chain = append(res.chain, tail.chain...)
		}
		if _, ok := r.chains[walk[i].URL]; !ok {
			r.chains[walk[i].URL] = res
		}
	}
	return r.chains[start.URL]
}

// reportCycle records one fatal diagnostic per distinct cycle. members is
// in walk order; the message starts the cycle at its smallest URL so that
// the report does not depend on which walk found it first.
func (r *resolver) reportCycle(members []string) {
	first := 0
	for i, m := range members {
		if m < members[first] {
			first = i
		}
	}
	ordered := make([]string, 0, len(members)+1)
	ordered = append(ordered, members[first:]...)
	ordered = append(ordered, members[:first]...)

	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	key := strings.Join(sorted, " ")

	r.mu.Lock()
	seen := r.cycles[key]
	r.cycles[key] = true
	r.mu.Unlock()
	if seen {
		return
	}

	r.diags.Add(fc.Fatal(fc.KindCycle).
		Message("inheritance cycle: " + strings.Join(append(ordered, ordered[0]), " -> ")).
		Source(ordered[0]).
		Members(sorted...).
		Build())
	r.log.Warn().Strs("members", sorted).Msg("inheritance cycle")
}

func (r *resolver) recordOf(ref Ref) *definition.Record {
	switch ref.Origin {
	case OriginCollection:
		return r.coll.At(ref.Slot)
	case OriginBase:
		return r.base.At(ref.Slot)
	}
	return nil
}
