package estimate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type priced struct {
	price float64
	known bool
}

func (p priced) Price() (float64, bool) {
	return p.price, p.known
}

func TestMeanPrice_NoData(t *testing.T) {
	mean, ok := MeanPrice([]priced{})
	require.False(t, ok)
	require.Zero(t, mean)

	mean, ok = MeanPrice[priced](nil)
	require.False(t, ok)
	require.Zero(t, mean)
}

func TestMeanPrice(t *testing.T) {
	mean, ok := MeanPrice([]priced{{10, true}, {30, true}})
	require.True(t, ok)
	require.InDelta(t, 20.0, mean, 1e-9)
}

func TestMeanPrice_OrderIndependent(t *testing.T) {
	a, _ := MeanPrice([]priced{{1.5, true}, {2.5, true}, {8, true}})
	b, _ := MeanPrice([]priced{{8, true}, {1.5, true}, {2.5, true}})
	require.InDelta(t, a, b, 1e-9)
	require.InDelta(t, 4.0, a, 1e-9)
}

func TestMeanPrice_SkipsUnknownPrices(t *testing.T) {
	mean, ok := MeanPrice([]priced{{100, true}, {0, false}})
	require.True(t, ok)
	require.InDelta(t, 100.0, mean, 1e-9)

	_, ok = MeanPrice([]priced{{0, false}})
	require.False(t, ok)
}
