package fleet

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propsignal/propctl/pkg/data"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, data.Init(dbPath))
	db, err := data.GetDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestClassify(t *testing.T) {
	tests := []struct {
		id   string
		want Family
	}{
		{"pts_linear_v1", Family{Kind: KindLinear}},
		{"reb_ridge_v3", Family{Kind: KindLinear}},
		{"ast_ols_v1", Family{Kind: KindLinear}},
		{"pts_quantile_q80_v2", Family{Kind: KindQuantile, Quantile: 80}},
		{"quantile_q5", Family{Kind: KindQuantile, Quantile: 5}},
		{"reb_lineadj_v1", Family{Kind: KindLineAdj, RequiresLine: true}},
		{"lineadj", Family{Kind: KindLineAdj, RequiresLine: true}},
		{"pts_gbm_v1", Family{Kind: KindUnknown}},
		{"", Family{Kind: KindUnknown}},
		// substring matches must not classify
		{"pts_bilinear_v1", Family{Kind: KindUnknown}},
		{"pts_quantile_qxx_v1", Family{Kind: KindUnknown}},
	}

	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.id))
		})
	}
}

func TestDiscover(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_linear_v1"}, false))
	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_quantile_q80_v1"}, false))
	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_old_v1"}, false))
	require.NoError(t, data.SetModelLifecycle(db, "pts_old_v1", data.LifecycleRetired, "test"))

	members, err := Discover(db)
	require.NoError(t, err)
	require.Len(t, members, 2, "retired models are not fleet members")

	assert.Equal(t, KindLinear, members[0].Family.Kind)
	assert.Equal(t, KindQuantile, members[1].Family.Kind)
	assert.Equal(t, 80, members[1].Family.Quantile)
}

func TestDiscover_SeesNewRegistrations(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "pts_linear_v1"}, false))
	members, err := Discover(db)
	require.NoError(t, err)
	require.Len(t, members, 1)

	// a model registered between runs shows up on the next discovery
	require.NoError(t, data.RegisterModel(db, &data.Model{ID: "reb_lineadj_v1"}, false))
	members, err = Discover(db)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}
