package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masts-go/market"
	"masts-go/strategy/emacross"
	"masts-go/timeframe"
)

func TestStrategyFactory_CreateEMACross(t *testing.T) {
	factory := NewStrategyFactory()

	s, err := factory.CreateStrategy("emacross", Params{
		Symbol:    "EURUSD",
		Timeframe: timeframe.H1,
		Magic:     9,
		PipValue:  0.0001,
		Values:    map[string]float64{"fast": 5, "slow": 20},
	}, &stubBroker{})
	require.NoError(t, err)

	ema, ok := s.(*emacross.Strategy)
	require.True(t, ok, "got %T", s)
	assert.Equal(t, "emacross", ema.Name())
	assert.Equal(t, map[market.Key]int{{Symbol: "EURUSD", Timeframe: timeframe.H1}: 60}, ema.RequiredData())
}

func TestStrategyFactory_Errors(t *testing.T) {
	factory := NewStrategyFactory()
	p := Params{Symbol: "EURUSD", Timeframe: timeframe.H1, PipValue: 0.0001}

	testCases := []struct {
		name   string
		typ    string
		params Params
		broker Broker
	}{
		{"unknown type", "grid", p, &stubBroker{}},
		{"nil broker", "emacross", p, nil},
		{"fast not below slow", "emacross", Params{Symbol: "EURUSD", Timeframe: timeframe.H1, PipValue: 0.0001,
			Values: map[string]float64{"fast": 30, "slow": 10}}, &stubBroker{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := factory.CreateStrategy(tc.typ, tc.params, tc.broker)
			assert.Error(t, err)
		})
	}
}
