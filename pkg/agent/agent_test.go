package agent

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

type numericVersion struct {
	Major, Minor, Patch int
}

func TestVersion_Compare_Ordering(t *testing.T) {
	assert.Equal(t, 0, Version{Major: 1, Minor: 2, Patch: 3}.Compare(Version{Major: 1, Minor: 2, Patch: 3}))
	assert.Equal(t, -1, Version{Major: 1}.Compare(Version{Major: 2}))
	assert.Equal(t, 1, Version{Major: 2}.Compare(Version{Major: 1}))
	assert.Equal(t, -1, Version{Major: 1, Minor: 1}.Compare(Version{Major: 1, Minor: 2}))
}

func TestVersion_Compare_PreReleaseSortsBelowRelease(t *testing.T) {
	release := Version{Major: 1, Minor: 0, Patch: 0}
	preRelease := Version{Major: 1, Minor: 0, Patch: 0, PreRelease: "rc1"}
	assert.Equal(t, 1, release.Compare(preRelease))
	assert.Equal(t, -1, preRelease.Compare(release))
}

func TestVersion_String(t *testing.T) {
	assert.Equal(t, "1.2.3", Version{Major: 1, Minor: 2, Patch: 3}.String())
	assert.Equal(t, "1.2.3-rc1", Version{Major: 1, Minor: 2, Patch: 3, PreRelease: "rc1"}.String())
	assert.Equal(t, "1.2.3+build5", Version{Major: 1, Minor: 2, Patch: 3, Build: "build5"}.String())
}

// TestVersion_Compare_Antisymmetric checks Compare(a,b) == -Compare(b,a)
// for arbitrary numeric versions, the invariant routing tie-breaks rely on.
func TestVersion_Compare_Antisymmetric(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	versionGen := gen.Struct(reflect.TypeOf(numericVersion{}), map[string]gopter.Gen{
		"Major": gen.IntRange(0, 5),
		"Minor": gen.IntRange(0, 5),
		"Patch": gen.IntRange(0, 5),
	})

	properties.Property("compare is antisymmetric", prop.ForAll(
		func(a, b numericVersion) bool {
			va := Version{Major: a.Major, Minor: a.Minor, Patch: a.Patch}
			vb := Version{Major: b.Major, Minor: b.Minor, Patch: b.Patch}
			return va.Compare(vb) == -vb.Compare(va)
		},
		versionGen, versionGen,
	))

	properties.TestingRun(t)
}

func TestAgent_Dispatchable(t *testing.T) {
	a := Agent{Status: StatusActive, LifecycleState: LifecycleIdle}
	assert.True(t, a.Dispatchable())

	a.LifecycleState = LifecycleDraining
	assert.False(t, a.Dispatchable())

	a.LifecycleState = LifecycleIdle
	a.Status = StatusDeprecated
	assert.False(t, a.Dispatchable())
}
