package infraction_test

import (
	"testing"
	"time"

	"github.com/gflze/gflbans/internal/database"
	"github.com/gflze/gflbans/internal/database/query"
	"github.com/gflze/gflbans/internal/infraction"
	"github.com/gflze/gflbans/internal/predicate"
	"github.com/gflze/gflbans/internal/tests"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
)

func ids(records []infraction.Infraction) []uuid.UUID {
	out := make([]uuid.UUID, len(records))
	for idx, inf := range records {
		out[idx] = inf.InfractionID
	}

	return out
}

func TestRepository(t *testing.T) {
	for name, store := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := store.infractions

			var inserted []infraction.Infraction

			for idx, ip := range []string{"10.20.0.1", "10.20.0.2", "10.20.0.3", "10.20.0.4", "10.20.0.5"} {
				opts := infraction.Opts{Target: infraction.Target{IP: ip}, Duration: seconds(3600)}
				if idx == 0 {
					opts.Admin = moderator()
				}

				inf := newRecord(t, opts)
				inf.Created = testNow.Add(time.Duration(idx) * time.Minute)
				require.NoError(t, repo.Insert(t.Context(), inf))

				inserted = append(inserted, inf)
			}

			require.ErrorIs(t, repo.Insert(t.Context(), inserted[0]), database.ErrDuplicate)

			// A zero limit returns every match, newest first.
			all, errAll := repo.Find(t.Context(), predicate.All{}, query.Filter{})
			require.NoError(t, errAll)
			require.Equal(t, []uuid.UUID{
				inserted[4].InfractionID, inserted[3].InfractionID, inserted[2].InfractionID,
				inserted[1].InfractionID, inserted[0].InfractionID,
			}, ids(all))

			page, errPage := repo.Find(t.Context(), predicate.All{}, query.Filter{Offset: 1, Limit: 2})
			require.NoError(t, errPage)
			require.Equal(t, []uuid.UUID{inserted[3].InfractionID, inserted[2].InfractionID}, ids(page))

			count, errCount := repo.Count(t.Context(), predicate.All{})
			require.NoError(t, errCount)
			require.Equal(t, int64(5), count)

			byIP, errByIP := repo.Count(t.Context(), predicate.Eq{Field: infraction.FieldIP, Value: "10.20.0.3"})
			require.NoError(t, errByIP)
			require.Equal(t, int64(1), byIP)

			_, errMissing := repo.Get(t.Context(), uuid.Must(uuid.NewV4()))
			require.ErrorIs(t, errMissing, database.ErrNoResult)

			orphan := newRecord(t, infraction.Opts{Target: infraction.Target{IP: "10.20.9.9"}})
			require.ErrorIs(t, repo.Update(t.Context(), orphan), database.ErrNoResult)

			updated := inserted[1].Clone()
			updated.Reason = "rewritten"
			updated.Comments = append(updated.Comments, infraction.Comment{Content: "kept", Created: testNow})
			require.NoError(t, repo.Update(t.Context(), updated))

			stored, errGet := repo.Get(t.Context(), updated.InfractionID)
			require.NoError(t, errGet)
			require.Equal(t, "rewritten", stored.Reason)
			require.Len(t, stored.Comments, 1)
			require.Equal(t, infraction.DurationFixed, stored.Duration.Mode)
			require.Equal(t, inserted[1].Duration.Expires.Unix(), stored.Duration.Expires.Unix())

			// Admin names match exactly, ignoring case.
			none, errNone := repo.AdminIDs(t.Context(), "m_d")
			require.NoError(t, errNone)
			require.Empty(t, none)

			admins, errAdmins := repo.AdminIDs(t.Context(), "MOD")
			require.NoError(t, errAdmins)
			require.Equal(t, []int64{tests.ModSID.Int64()}, admins)
		})
	}
}

func TestRepositoryPolicies(t *testing.T) {
	for name, store := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			repo := store.infractions

			policy, errPolicy := infraction.NewPolicy(escalatingPolicy(), testNow)
			require.NoError(t, errPolicy)
			require.NoError(t, repo.SavePolicy(t.Context(), policy))

			loaded, errLoad := repo.Policy(t.Context(), policy.PolicyID)
			require.NoError(t, errLoad)
			require.Equal(t, policy.Name, loaded.Name)
			require.Equal(t, policy.Tiers, loaded.Tiers)
			require.Equal(t, policy.TierTTL, loaded.TierTTL)
			require.True(t, loaded.IncludeOtherServers)
			require.Nil(t, loaded.ServerID)

			_, errMissing := repo.Policy(t.Context(), uuid.Must(uuid.NewV4()))
			require.ErrorIs(t, errMissing, database.ErrNoResult)

			loaded.Name = "renamed"
			require.NoError(t, repo.SavePolicy(t.Context(), loaded))

			renamed, errRenamed := repo.Policy(t.Context(), policy.PolicyID)
			require.NoError(t, errRenamed)
			require.Equal(t, "renamed", renamed.Name)

			inf := newRecord(t, infraction.Opts{Target: infraction.Target{IP: "10.21.0.1"}})
			inf.AutoTier = true
			inf.PolicyID = &policy.PolicyID
			require.NoError(t, repo.Insert(t.Context(), inf))

			stored, errGet := repo.Get(t.Context(), inf.InfractionID)
			require.NoError(t, errGet)
			require.True(t, stored.AutoTier)
			require.Equal(t, policy.PolicyID, *stored.PolicyID)

			plain := newRecord(t, infraction.Opts{Target: infraction.Target{IP: "10.21.0.2"}})
			require.NoError(t, repo.Insert(t.Context(), plain))

			storedPlain, errPlain := repo.Get(t.Context(), plain.InfractionID)
			require.NoError(t, errPlain)
			require.False(t, storedPlain.AutoTier)
			require.Nil(t, storedPlain.PolicyID)

			tiered, errTiered := repo.Find(t.Context(), predicate.In{
				Field: infraction.FieldPolicyID, Values: []any{policy.PolicyID},
			}, query.Filter{})
			require.NoError(t, errTiered)
			require.Equal(t, []uuid.UUID{inf.InfractionID}, ids(tiered))
		})
	}
}
