package clusterstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
)

type fakeStorage struct {
	data map[shadow.ClusterPath]shadow.ClusterData
	fail bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{data: make(map[shadow.ClusterPath]shadow.ClusterData)}
}

func (f *fakeStorage) Load(_ context.Context, _ shadow.NodeId, path shadow.ClusterPath) (shadow.ClusterData, bool, error) {
	cd, ok := f.data[path]
	return cd.Clone(), ok, nil
}

func (f *fakeStorage) Store(_ context.Context, _ shadow.NodeId, clusters map[shadow.ClusterPath]shadow.ClusterData) error {
	if f.fail {
		return errFail
	}
	for k, v := range clusters {
		f.data[k] = v.Clone()
	}
	return nil
}

var errFail = errStr("storage failure")

type errStr string

func (e errStr) Error() string { return string(e) }

func boolVal(b bool) shadow.DataValue { return shadow.DataValue{Type: shadow.TypeBoolean, Bool: b} }

func TestGetDirtyBeforePersisted(t *testing.T) {
	s := New(1, nil)
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	s.LoadPersisted(path.Path(), shadow.ClusterData{Attributes: map[shadow.AttributeId]shadow.DataValue{0: boolVal(false)}})

	v, ok := s.Get(context.Background(), path)
	require.True(t, ok)
	require.Equal(t, boolVal(false), v)

	s.Set(path, boolVal(true))
	v, ok = s.Get(context.Background(), path)
	require.True(t, ok)
	require.Equal(t, boolVal(true), v)
}

func TestGetNeverFabricatesDefault(t *testing.T) {
	s := New(1, nil)
	_, ok := s.Get(context.Background(), shadow.AttributePath{Endpoint: 9, Cluster: 9, Attribute: 9})
	require.False(t, ok)
}

func TestFlushMergesDirtyAndRetainsOnFailure(t *testing.T) {
	storage := newFakeStorage()
	s := New(1, storage)
	path := shadow.AttributePath{Endpoint: 0, Cluster: 0x1D, Attribute: 0}
	s.Set(path, boolVal(true))
	require.True(t, s.Dirty())

	storage.fail = true
	err := s.FlushTo(context.Background(), storage)
	require.Error(t, err)
	require.True(t, s.Dirty(), "dirty must be retained on flush failure")

	storage.fail = false
	err = s.FlushTo(context.Background(), storage)
	require.NoError(t, err)
	require.False(t, s.Dirty())

	v, ok := s.Get(context.Background(), path)
	require.True(t, ok)
	require.Equal(t, boolVal(true), v)
}

func TestIngestBatchFiltersUnchangedAndTracksConfig(t *testing.T) {
	s := New(1, nil)
	descriptorParts := shadow.AttributePath{Endpoint: 0, Cluster: 0x1D, Attribute: 1}
	other := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}

	s.Set(other, boolVal(false))

	reports, configChanged := s.IngestBatch([]shadow.AttributeReport{
		{Path: other, Value: boolVal(false)}, // unchanged -> filtered
		{Path: descriptorParts, Value: shadow.DataValue{Type: shadow.TypeArray}},
	})

	require.Len(t, reports, 1)
	require.Equal(t, descriptorParts, reports[0].Path)
	require.True(t, configChanged)
}

func TestIngestBatchErrorClearsAndReportsPrevious(t *testing.T) {
	s := New(1, nil)
	path := shadow.AttributePath{Endpoint: 1, Cluster: 6, Attribute: 0}
	s.Set(path, boolVal(true))

	reports, _ := s.IngestBatch([]shadow.AttributeReport{
		{Path: path, Err: errFail},
	})

	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].Previous)
	require.Equal(t, boolVal(true), *reports[0].Previous)

	_, ok := s.Get(context.Background(), path)
	require.False(t, ok)
}

func TestDataVersionMapUnion(t *testing.T) {
	storage := newFakeStorage()
	s := New(1, storage)
	p1 := shadow.ClusterPath{Endpoint: 0, Cluster: 0x1D}
	v1 := shadow.DataVersion(7)
	s.LoadPersisted(p1, shadow.ClusterData{DataVersion: &v1, Attributes: map[shadow.AttributeId]shadow.DataValue{}})

	p2 := shadow.ClusterPath{Endpoint: 1, Cluster: 6}
	s.NoteDataVersion(p2, 3)

	m := s.DataVersionMap()
	require.Equal(t, shadow.DataVersion(7), m[p1])
	require.Equal(t, shadow.DataVersion(3), m[p2])
}

func TestIsConfigurationAttribute(t *testing.T) {
	require.True(t, IsConfigurationAttribute(shadow.AttributePath{Cluster: 0x1D, Attribute: attrPartsList}))
	require.True(t, IsConfigurationAttribute(shadow.AttributePath{Cluster: 6, Attribute: attrFeatureMap}))
	require.False(t, IsConfigurationAttribute(shadow.AttributePath{Cluster: 6, Attribute: 0}))
}
