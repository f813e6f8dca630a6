package sqlitestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodefabric/shadowd/internal/shadow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shadow.db")
	require.NoError(t, Migrate(path))
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		os.Remove(path)
	})
	return s
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Load(context.Background(), 1, shadow.ClusterPath{Endpoint: 0, Cluster: 6})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStoreThenLoadRoundTrips(t *testing.T) {
	s := newTestStore(t)
	v := shadow.DataVersion(4)
	path := shadow.ClusterPath{Endpoint: 1, Cluster: 6}
	cd := shadow.ClusterData{
		DataVersion: &v,
		Attributes: map[shadow.AttributeId]shadow.DataValue{
			0: {Type: shadow.TypeBoolean, Bool: true},
		},
	}

	require.NoError(t, s.Store(context.Background(), 1, map[shadow.ClusterPath]shadow.ClusterData{path: cd}))

	got, ok, err := s.Load(context.Background(), 1, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(cd))
}

func TestStoreUpsertsOnSecondWrite(t *testing.T) {
	s := newTestStore(t)
	path := shadow.ClusterPath{Endpoint: 0, Cluster: 0x1D}
	v1 := shadow.DataVersion(1)
	v2 := shadow.DataVersion(2)

	require.NoError(t, s.Store(context.Background(), 9, map[shadow.ClusterPath]shadow.ClusterData{
		path: {DataVersion: &v1, Attributes: map[shadow.AttributeId]shadow.DataValue{0: {Type: shadow.TypeUnsignedInt, Uint: 1}}},
	}))
	require.NoError(t, s.Store(context.Background(), 9, map[shadow.ClusterPath]shadow.ClusterData{
		path: {DataVersion: &v2, Attributes: map[shadow.AttributeId]shadow.DataValue{0: {Type: shadow.TypeUnsignedInt, Uint: 2}}},
	}))

	got, ok, err := s.Load(context.Background(), 9, path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, shadow.DataVersion(2), *got.DataVersion)
	require.Equal(t, uint64(2), got.Attributes[0].Uint)
}

func TestLoadDoesNotMixNodes(t *testing.T) {
	s := newTestStore(t)
	path := shadow.ClusterPath{Endpoint: 0, Cluster: 6}
	require.NoError(t, s.Store(context.Background(), 1, map[shadow.ClusterPath]shadow.ClusterData{
		path: {Attributes: map[shadow.AttributeId]shadow.DataValue{0: {Type: shadow.TypeBoolean, Bool: true}}},
	}))

	_, ok, err := s.Load(context.Background(), 2, path)
	require.NoError(t, err)
	require.False(t, ok)
}
