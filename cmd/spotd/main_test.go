package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spotchain/config"
	"spotchain/core/state"
	"spotchain/crypto"
	"spotchain/native/fees"
	"spotchain/native/lending"
	"spotchain/storage"
)

func TestLoadSchedulePrefersPersistedSchedule(t *testing.T) {
	db := storage.NewMemDB()
	mgr := state.NewManager(db)
	sink := crypto.BytesToAddress([]byte{0x01})
	admin := crypto.BytesToAddress([]byte{0x02})
	configured := config.Fee{RateBps: 25, Sink: sink.Hex(), Admin: admin.Hex()}

	schedule, err := loadSchedule(mgr, lending.ModuleName, configured)
	require.NoError(t, err)
	require.EqualValues(t, 25, schedule.Current().RateBps)

	require.NoError(t, schedule.SetRate(admin, 75))
	require.NoError(t, schedule.Persist(mgr, lending.ModuleName))
	require.NoError(t, mgr.Commit())

	reloaded, err := loadSchedule(state.NewManager(db), lending.ModuleName, configured)
	require.NoError(t, err)
	require.Equal(t, fees.Snapshot{RateBps: 75, Sink: sink, Admin: admin}, reloaded.Current())

	_, err = loadSchedule(mgr, lending.ModuleName, config.Fee{RateBps: 10})
	require.ErrorIs(t, err, fees.ErrZeroFeeSink)
}
