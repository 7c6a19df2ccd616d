// Package deploy implements the build-and-deploy pipeline: image builds,
// manifest image rewrites and dependency-ordered application of the
// service's deployment units.
package deploy

import (
	"fmt"
	"sort"

	"github.com/cheminfuse/aniops/internal/config"
)

// Category classifies a deployment unit within the dependency DAG.
type Category int

const (
	CategoryNamespace Category = iota
	CategoryConfig
	CategoryStateful
	CategoryService
	CategoryWorkload
	CategoryIngress
	CategoryAutoscaler
)

func (c Category) String() string {
	switch c {
	case CategoryNamespace:
		return "namespace"
	case CategoryConfig:
		return "config"
	case CategoryStateful:
		return "stateful"
	case CategoryService:
		return "service"
	case CategoryWorkload:
		return "workload"
	case CategoryIngress:
		return "ingress"
	case CategoryAutoscaler:
		return "autoscaler"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Workload resource names as they appear in the stock manifests. Waits and
// smoke checks address Deployments by these names, not by image repository.
const (
	WorkloadAPI    = "torchani-service"
	WorkloadWorker = "torchani-worker"
)

// dependencies lists which categories must be ready before a category may
// be applied. Workloads need config and their stateful dependency; ingress
// and autoscaling point at workloads.
var dependencies = map[Category][]Category{
	CategoryNamespace:  {},
	CategoryConfig:     {CategoryNamespace},
	CategoryStateful:   {CategoryNamespace, CategoryConfig},
	CategoryService:    {CategoryNamespace},
	CategoryWorkload:   {CategoryConfig, CategoryStateful, CategoryService},
	CategoryIngress:    {CategoryWorkload},
	CategoryAutoscaler: {CategoryWorkload},
}

// WaitKind selects the readiness check run after a unit is applied.
type WaitKind int

const (
	WaitNone WaitKind = iota
	WaitNamespace
	WaitStatefulSet
	WaitDeployment
)

// Unit is one dependency-ordered group of applied resources.
type Unit struct {
	Name     string
	Category Category

	// Files are manifest files relative to the manifest directory.
	Files []string

	// Optional units are applied only on explicit operator opt-in.
	Optional bool

	WaitKind WaitKind

	// WaitName is the resource waited on, empty when WaitKind is
	// WaitNone or WaitNamespace.
	WaitName string
}

// OrderViolationError reports a unit applied before one of its
// dependencies was ready. It indicates an internal defect, not an
// expected runtime condition.
type OrderViolationError struct {
	Unit       string
	Dependency Category
}

func (e *OrderViolationError) Error() string {
	return fmt.Sprintf(
		"deployment unit %q was scheduled before its %s dependency was ready",
		e.Unit, e.Dependency)
}

// Plan produces the total application order for units: stable-sorted by
// category rank, so any input permutation yields the same plan.
func Plan(units []Unit) []Unit {
	planned := append([]Unit(nil), units...)
	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].Category < planned[j].Category
	})
	return planned
}

// tracker enforces the ordering invariant at apply time. Apply attempts on
// a unit whose dependency categories are present in the plan but not yet
// ready are rejected.
type tracker struct {
	present map[Category]bool
	ready   map[Category]int
	total   map[Category]int
}

func newTracker(units []Unit) *tracker {
	t := &tracker{
		present: make(map[Category]bool),
		ready:   make(map[Category]int),
		total:   make(map[Category]int),
	}
	for _, u := range units {
		t.present[u.Category] = true
		t.total[u.Category]++
	}
	return t
}

// check returns an OrderViolationError when u has an unsatisfied
// dependency edge. Dependencies on categories absent from the plan are
// vacuously satisfied.
func (t *tracker) check(u Unit) error {
	for _, dep := range dependencies[u.Category] {
		if !t.present[dep] {
			continue
		}
		if t.ready[dep] < t.total[dep] {
			return &OrderViolationError{Unit: u.Name, Dependency: dep}
		}
	}
	return nil
}

// markReady records that u and its readiness check completed.
func (t *tracker) markReady(u Unit) {
	t.ready[u.Category]++
}

// markSkipped removes a skipped optional unit from the plan so units
// downstream of its category are not blocked on it.
func (t *tracker) markSkipped(u Unit) {
	t.total[u.Category]--
	if t.total[u.Category] == 0 {
		delete(t.present, u.Category)
	}
}

// DefaultUnits returns the service's deployment units.
func DefaultUnits(cfg *config.Resolved) []Unit {
	return []Unit{
		{
			Name:     "namespace",
			Category: CategoryNamespace,
			Files:    []string{"namespace.yaml"},
			WaitKind: WaitNamespace,
		},
		{
			Name:     "config",
			Category: CategoryConfig,
			Files:    []string{"configmap.yaml", "secret.yaml"},
		},
		{
			Name:     "redis",
			Category: CategoryStateful,
			Files:    []string{"redis.yaml"},
			WaitKind: WaitStatefulSet,
			WaitName: "redis",
		},
		{
			Name:     "services",
			Category: CategoryService,
			Files:    []string{"service.yaml"},
		},
		{
			Name:     "api",
			Category: CategoryWorkload,
			Files:    []string{"deployment-api.yaml"},
			WaitKind: WaitDeployment,
			WaitName: WorkloadAPI,
		},
		{
			Name:     "worker",
			Category: CategoryWorkload,
			Files:    []string{"deployment-worker.yaml"},
			WaitKind: WaitDeployment,
			WaitName: WorkloadWorker,
		},
		{
			Name:     "ingress",
			Category: CategoryIngress,
			Files:    []string{"ingress.yaml"},
			Optional: true,
		},
		{
			Name:     "autoscaler",
			Category: CategoryAutoscaler,
			Files:    []string{"hpa.yaml"},
			Optional: true,
		},
	}
}
