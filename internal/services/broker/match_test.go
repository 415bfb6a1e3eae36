package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

func res(id, typeID string, caps ...string) *models.Resource {
	return &models.Resource{ID: id, Type: typeID, Capabilities: models.NormalizeCaps(caps)}
}

func TestMinCostAssignmentSquare(t *testing.T) {
	cost := [][]int{
		{4, 1, 3},
		{2, 0, 5},
		{3, 2, 2},
	}
	rows := minCostAssignment(cost)
	require.Len(t, rows, 3)

	total := 0
	seen := map[int]bool{}
	for i, j := range rows {
		require.False(t, seen[j], "column assigned twice")
		seen[j] = true
		total += cost[i][j]
	}
	// Optimal: (0,1)=1 (1,0)=2 (2,2)=2.
	assert.Equal(t, 5, total)
}

func TestMinCostAssignmentRectangular(t *testing.T) {
	cost := [][]int{
		{5, 1, 5, 5},
		{5, 2, 1, 5},
	}
	rows := minCostAssignment(cost)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0])
	assert.Equal(t, 2, rows[1])
}

func TestMatchClaimPicksCheapestResources(t *testing.T) {
	// Two specs requiring c1; the cheapest two of three free resources win
	// and the tie between equally priced resources breaks by id.
	claim := models.NewResourceClaim(
		models.NewResourceSpec("a", "device", []string{"c1"}),
		models.NewResourceSpec("b", "device", []string{"c1"}),
	)
	pool := []*models.Resource{
		res("R2", "device", "c1", "c2"),
		res("R3", "device", "c1", "c3"),
		res("R1", "device", "c1"),
	}

	assignment, reasons := matchClaim(claim, pool)
	require.NotNil(t, assignment)
	assert.Empty(t, reasons)

	chosen := map[string]bool{assignment["a"].ID: true, assignment["b"].ID: true}
	assert.True(t, chosen["R1"], "the single-capability resource is always used")
	assert.True(t, chosen["R2"], "ties at equal cost break by id ascending")
	assert.False(t, chosen["R3"])
}

func TestMatchClaimCapabilityShortage(t *testing.T) {
	claim := models.NewResourceClaim(
		models.NewResourceSpec("dev", "device", []string{"gpu"}),
	)
	pool := []*models.Resource{res("R1", "device", "cpu")}

	assignment, reasons := matchClaim(claim, pool)
	assert.Nil(t, assignment)
	require.Len(t, reasons, 1)
	assert.Equal(t, interfaces.ReasonCaps, reasons[0].Kind)
	assert.Equal(t, "dev", reasons[0].Reference)
}

func TestMatchClaimTypeShortage(t *testing.T) {
	claim := models.NewResourceClaim(
		models.NewResourceSpec("a", "device", nil),
		models.NewResourceSpec("b", "device", nil),
	)
	pool := []*models.Resource{res("R1", "device")}

	assignment, reasons := matchClaim(claim, pool)
	assert.Nil(t, assignment)
	require.Len(t, reasons, 1)
	assert.Equal(t, interfaces.ReasonType, reasons[0].Kind)
	assert.Equal(t, 1, reasons[0].Shortage)
}

func TestMatchClaimNoCandidates(t *testing.T) {
	claim := models.NewResourceClaim(models.NewResourceSpec("dev", "device", nil))

	assignment, reasons := matchClaim(claim, nil)
	assert.Nil(t, assignment)
	require.Len(t, reasons, 1)
	assert.Equal(t, interfaces.ReasonSpec, reasons[0].Kind)
}

func TestMatchClaimEmpty(t *testing.T) {
	assignment, reasons := matchClaim(models.ResourceClaim{}, nil)
	require.NotNil(t, assignment)
	assert.Empty(t, assignment)
	assert.Empty(t, reasons)
}

func TestMatchClaimInfeasibleOverlap(t *testing.T) {
	// Both specs can only be served by R1; the matcher must not hand R1 out
	// twice, and the unserved spec surfaces as a capability reason.
	claim := models.NewResourceClaim(
		models.NewResourceSpec("a", "device", []string{"c1"}),
		models.NewResourceSpec("b", "device", []string{"c1"}),
	)
	pool := []*models.Resource{
		res("R1", "device", "c1"),
		res("R2", "device", "c2"),
	}

	assignment, reasons := matchClaim(claim, pool)
	assert.Nil(t, assignment)
	require.Len(t, reasons, 1)
	assert.Equal(t, interfaces.ReasonCaps, reasons[0].Kind)
}

func TestMatchClaimMultipleTypes(t *testing.T) {
	claim := models.NewResourceClaim(
		models.NewResourceSpec("dev", "device", []string{"ate"}),
		models.NewResourceSpec("lic", "license", nil),
	)
	pool := []*models.Resource{
		res("D1", "device", "ate"),
		res("L1", "license"),
	}

	assignment, reasons := matchClaim(claim, pool)
	require.NotNil(t, assignment)
	assert.Empty(t, reasons)
	assert.Equal(t, "D1", assignment["dev"].ID)
	assert.Equal(t, "L1", assignment["lic"].ID)
}
