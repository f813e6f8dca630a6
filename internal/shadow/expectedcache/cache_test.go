package expectedcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
)

func boolVal(b bool) shadow.DataValue { return shadow.DataValue{Type: shadow.TypeBoolean, Bool: b} }

func noCached(shadow.AttributePath) (shadow.DataValue, bool) { return shadow.DataValue{}, false }

func TestSetEmitsReportOnTransitionFromCached(t *testing.T) {
	c := New()
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	cached := func(p shadow.AttributePath) (shadow.DataValue, bool) { return boolVal(false), true }

	gen, reports := c.Set([]Pending{{Path: path, Value: boolVal(true)}}, time.Second, cached)
	require.NotZero(t, gen)
	require.Len(t, reports, 1)
	require.Equal(t, boolVal(true), reports[0].Value)

	v, ok := c.Lookup(path)
	require.True(t, ok)
	require.Equal(t, boolVal(true), v)
}

func TestSetNoReportWhenMatchesCached(t *testing.T) {
	c := New()
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	cached := func(p shadow.AttributePath) (shadow.DataValue, bool) { return boolVal(true), true }

	_, reports := c.Set([]Pending{{Path: path, Value: boolVal(true)}}, time.Second, cached)
	require.Empty(t, reports)
}

func TestRemoveOnlyMatchingGeneration(t *testing.T) {
	c := New()
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	gen1, _ := c.Set([]Pending{{Path: path, Value: boolVal(true)}}, time.Minute, noCached)
	gen2, _ := c.Set([]Pending{{Path: path, Value: boolVal(false)}}, time.Minute, noCached)
	require.NotEqual(t, gen1, gen2)

	// Removing by the stale generation must not touch the newer entry.
	r := c.Remove(path, gen1, noCached)
	require.Nil(t, r)
	v, ok := c.Lookup(path)
	require.True(t, ok)
	require.Equal(t, boolVal(false), v)

	r = c.Remove(path, gen2, func(shadow.AttributePath) (shadow.DataValue, bool) { return boolVal(true), true })
	require.NotNil(t, r)
	require.Equal(t, boolVal(true), r.Value)
	_, ok = c.Lookup(path)
	require.False(t, ok)
}

func TestLookupPurgesExpiredEntry(t *testing.T) {
	c := New()
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	c.Set([]Pending{{Path: path, Value: boolVal(true)}}, time.Second, noCached)

	fakeNow = fakeNow.Add(2 * time.Second)
	_, ok := c.Lookup(path)
	require.False(t, ok)
}

func TestSweepReportsExpiredDivergence(t *testing.T) {
	c := New()
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	c.Set([]Pending{{Path: path, Value: boolVal(true)}}, time.Second, noCached)

	fakeNow = fakeNow.Add(2 * time.Second)
	cached := func(shadow.AttributePath) (shadow.DataValue, bool) { return boolVal(false), true }
	reports := c.Sweep(cached)
	require.Len(t, reports, 1)
	require.Equal(t, boolVal(false), reports[0].Value)
}

func TestNextDeadlineClampedToMinimum(t *testing.T) {
	c := New()
	fakeNow := time.Now()
	c.now = func() time.Time { return fakeNow }
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	c.Set([]Pending{{Path: path, Value: boolVal(true)}}, time.Millisecond, noCached)

	deadline, ok := c.NextDeadline()
	require.True(t, ok)
	require.True(t, !deadline.Before(fakeNow.Add(minSweepDelay)))
}
