package mongostore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/eida/wfcc/pkg/consistency/catalog"
	"github.com/eida/wfcc/pkg/consistency/catalog/mongostore"
	"github.com/eida/wfcc/pkg/consistency/model"
)

func TestPipeline(t *testing.T) {
	t.Run("matches the year window", func(t *testing.T) {
		p := mongostore.Pipeline(catalog.Query{YearStart: 2019, YearEnd: 2020})
		require.Len(t, p, 2)

		match := p[0][0]
		require.Equal(t, "$match", match.Key)
		ts := match.Value.(bson.D)[0]
		require.Equal(t, "ts", ts.Key)
		bounds := ts.Value.(bson.D)
		require.Equal(t, time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC), bounds[0].Value)
		require.Equal(t, time.Date(2020, time.December, 31, 23, 59, 59, 999999000, time.UTC), bounds[1].Value)
		require.Len(t, match.Value.(bson.D), 1)

		project := p[1][0]
		require.Equal(t, "$project", project.Key)
	})

	t.Run("excludes networks", func(t *testing.T) {
		p := mongostore.Pipeline(catalog.Query{YearStart: 2020, YearEnd: 2020, Excluded: model.NewNetworkSet("Z3", "XX")})
		match := p[0][0].Value.(bson.D)
		require.Len(t, match, 2)
		require.Equal(t, "net", match[1].Key)
		require.Equal(t, bson.D{{Key: "$nin", Value: []string{"XX", "Z3"}}}, match[1].Value)
	})
}
