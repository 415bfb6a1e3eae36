package broker

import (
	"sort"

	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// matchClaim computes an assignment reference -> resource over the candidate
// pool, minimising total resource cost per type. On failure it returns a nil
// map plus one WaitReason per shortage; the caller stamps the availability
// level onto the reasons.
func matchClaim(claim models.ResourceClaim, pool []*models.Resource) (map[string]*models.Resource, []interfaces.WaitReason) {
	assignment := make(map[string]*models.Resource, len(claim))
	var reasons []interfaces.WaitReason

	byType := make(map[string][]*models.Resource)
	for _, res := range pool {
		byType[res.Type] = append(byType[res.Type], res)
	}

	for _, typeID := range claim.Types() {
		specs := claim.SpecsOfType(typeID)
		candidates := byType[typeID]

		// Cheapest candidates first; equal cost breaks ties by id.
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].Cost() != candidates[j].Cost() {
				return candidates[i].Cost() < candidates[j].Cost()
			}
			return candidates[i].ID < candidates[j].ID
		})

		if len(candidates) == 0 {
			for _, spec := range specs {
				reasons = append(reasons, interfaces.WaitReason{
					Kind:      interfaces.ReasonSpec,
					Reference: spec.Reference,
					TypeID:    typeID,
				})
			}
			continue
		}
		if len(specs) > len(candidates) {
			reasons = append(reasons, interfaces.WaitReason{
				Kind:     interfaces.ReasonType,
				TypeID:   typeID,
				Shortage: len(specs) - len(candidates),
			})
			continue
		}

		matched := assignType(specs, candidates)
		for i, spec := range specs {
			res := matched[i]
			// Infinite costs leak through when no feasible matching exists;
			// the capability check catches them here.
			if res == nil || !models.HasAllCaps(res.Capabilities, spec.Capabilities) {
				reasons = append(reasons, interfaces.WaitReason{
					Kind:      interfaces.ReasonCaps,
					Reference: spec.Reference,
					TypeID:    typeID,
				})
				continue
			}
			assignment[spec.Reference] = res
		}
	}

	if len(reasons) > 0 || len(assignment) != len(claim) {
		return nil, reasons
	}
	return assignment, nil
}

// assignType matches the specs of one resource type against its candidates,
// minimising the total cost of the chosen resources. Returns the resource
// chosen per spec, aligned with specs.
func assignType(specs []models.ResourceSpec, candidates []*models.Resource) []*models.Resource {
	infinity := 1
	for _, res := range candidates {
		infinity += res.Cost()
	}

	cost := make([][]int, len(specs))
	for i, spec := range specs {
		row := make([]int, len(candidates))
		for j, res := range candidates {
			if models.HasAllCaps(res.Capabilities, spec.Capabilities) {
				row[j] = res.Cost()
			} else {
				row[j] = infinity
			}
		}
		cost[i] = row
	}

	chosen := make([]*models.Resource, len(specs))
	for i, j := range minCostAssignment(cost) {
		if j >= 0 {
			chosen[i] = candidates[j]
		}
	}
	return chosen
}

// minCostAssignment solves the rectangular assignment problem (Kuhn-Munkres)
// for a cost matrix with rows <= columns. The result maps each row to its
// assigned column.
func minCostAssignment(cost [][]int) []int {
	n := len(cost)
	if n == 0 {
		return nil
	}
	m := len(cost[0])
	if n > m {
		return nil
	}

	c := make([][]int, n)
	for i := range cost {
		c[i] = append([]int(nil), cost[i]...)
	}

	// Row reduction.
	for i := range c {
		min := c[i][0]
		for _, v := range c[i] {
			if v < min {
				min = v
			}
		}
		for j := range c[i] {
			c[i][j] -= min
		}
	}

	starRow := make([]int, n) // row -> starred column
	starCol := make([]int, m) // column -> starred row
	for i := range starRow {
		starRow[i] = -1
	}
	for j := range starCol {
		starCol[j] = -1
	}

	// Greedy initial matching on the reduced zeros.
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if c[i][j] == 0 && starCol[j] == -1 {
				starRow[i], starCol[j] = j, i
				break
			}
		}
	}

	rowCovered := make([]bool, n)
	colCovered := make([]bool, m)
	primeRow := make([]int, n)

	coverStarred := func() int {
		count := 0
		for j := 0; j < m; j++ {
			colCovered[j] = starCol[j] != -1
			if colCovered[j] {
				count++
			}
		}
		return count
	}

	for coverStarred() < n {
		for i := range rowCovered {
			rowCovered[i] = false
		}
		for i := range primeRow {
			primeRow[i] = -1
		}

	refine:
		for {
			// Find an uncovered zero.
			zi, zj := -1, -1
		search:
			for i := 0; i < n; i++ {
				if rowCovered[i] {
					continue
				}
				for j := 0; j < m; j++ {
					if !colCovered[j] && c[i][j] == 0 {
						zi, zj = i, j
						break search
					}
				}
			}

			if zi == -1 {
				// No uncovered zero left: shift the minimum uncovered value
				// to create new ones.
				min := -1
				for i := 0; i < n; i++ {
					if rowCovered[i] {
						continue
					}
					for j := 0; j < m; j++ {
						if !colCovered[j] && (min == -1 || c[i][j] < min) {
							min = c[i][j]
						}
					}
				}
				for i := 0; i < n; i++ {
					for j := 0; j < m; j++ {
						if rowCovered[i] && colCovered[j] {
							c[i][j] += min
						} else if !rowCovered[i] && !colCovered[j] {
							c[i][j] -= min
						}
					}
				}
				continue
			}

			primeRow[zi] = zj
			if starRow[zi] == -1 {
				// Augmenting path: alternate primed and starred zeros,
				// starring the primes and unstarring the stars.
				for {
					si := starCol[zj]
					starRow[zi], starCol[zj] = zj, zi
					if si == -1 {
						break
					}
					zi = si
					zj = primeRow[zi]
				}
				break refine
			}
			colCovered[starRow[zi]] = false
			rowCovered[zi] = true
		}
	}

	return starRow
}
