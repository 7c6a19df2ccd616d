package deploy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cheminfuse/aniops/internal/config"
)

func testConfig() *config.Resolved {
	return &config.Resolved{
		Namespace:       "torchani",
		Registry:        "registry.example",
		ImageRepoAPI:    "torchani-service",
		ImageRepoWorker: "torchani-worker",
		Version:         "1.2.3",
		ManifestDir:     "deploy/manifests",
	}
}

func TestPlan_OrdersByDependency(t *testing.T) {
	units := DefaultUnits(testConfig())
	planned := Plan(units)

	position := make(map[Category]int)
	for i, unit := range planned {
		if _, seen := position[unit.Category]; !seen {
			position[unit.Category] = i
		}
	}

	for category, deps := range dependencies {
		if _, present := position[category]; !present {
			continue
		}
		for _, dep := range deps {
			assert.Less(t, position[dep], position[category],
				"%s must come before %s", dep, category)
		}
	}
}

// For any dependency edge, no input permutation may produce a plan that
// applies a unit before its dependency.
func TestPlan_RandomizedOrderingsNeverViolateDependencies(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		units := DefaultUnits(testConfig())
		rng.Shuffle(len(units), func(a, b int) {
			units[a], units[b] = units[b], units[a]
		})

		planned := Plan(units)
		track := newTracker(planned)
		for _, unit := range planned {
			require.NoError(t, track.check(unit),
				"iteration %d: unit %q applied out of order", i, unit.Name)
			track.markReady(unit)
		}
	}
}

func TestPlan_IsDeterministicAcrossPermutations(t *testing.T) {
	base := Plan(DefaultUnits(testConfig()))

	shuffled := DefaultUnits(testConfig())
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(shuffled), func(a, b int) {
		shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
	})

	replanned := Plan(shuffled)
	require.Len(t, replanned, len(base))
	for i := range base {
		assert.Equal(t, base[i].Name, replanned[i].Name)
	}
}

func TestTracker_RejectsUnitBeforeDependencyReady(t *testing.T) {
	units := []Unit{
		{Name: "config", Category: CategoryConfig},
		{Name: "api", Category: CategoryWorkload},
	}
	track := newTracker(units)

	err := track.check(units[1])
	var violation *OrderViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "api", violation.Unit)
	assert.Equal(t, CategoryConfig, violation.Dependency)

	track.markReady(units[0])
	assert.NoError(t, track.check(units[1]))
}

func TestTracker_SkippedOptionalUnitDoesNotBlockDownstream(t *testing.T) {
	units := []Unit{
		{Name: "config", Category: CategoryConfig},
		{Name: "services", Category: CategoryService},
		{Name: "stateful", Category: CategoryStateful, Optional: true},
		{Name: "api", Category: CategoryWorkload},
	}
	track := newTracker(units)

	track.markReady(units[0])
	track.markReady(units[1])
	track.markSkipped(units[2])

	assert.NoError(t, track.check(units[3]))
}

func TestTracker_DependencyAbsentFromPlanIsVacuouslySatisfied(t *testing.T) {
	units := []Unit{{Name: "ingress", Category: CategoryIngress}}
	track := newTracker(units)

	assert.NoError(t, track.check(units[0]))
}

func TestDefaultUnits_WaitOnManifestWorkloadNames(t *testing.T) {
	cfg := testConfig()
	cfg.ImageRepoAPI = "custom-api"
	cfg.ImageRepoWorker = "custom-worker"

	byName := make(map[string]Unit)
	for _, unit := range DefaultUnits(cfg) {
		byName[unit.Name] = unit
	}

	assert.Equal(t, WorkloadAPI, byName["api"].WaitName)
	assert.Equal(t, WorkloadWorker, byName["worker"].WaitName)
}
