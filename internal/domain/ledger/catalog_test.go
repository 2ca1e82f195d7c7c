package ledger

import (
	"context"
	"testing"

	"github.com/example/ticketing-saga/internal/events"
	"github.com/example/ticketing-saga/internal/sagaerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_OnSessionPublished_Redelivery(t *testing.T) {
	l, _ := newTestLedger(3)
	ctx := context.Background()
	published := events.SessionPublished{
		EventID:   "E1",
		SessionID: "S1",
		Tiers:     []events.TierStock{{TierID: "GA", Quantity: 100}, {TierID: "VIP", Quantity: 10}},
	}

	require.NoError(t, l.OnSessionPublished(ctx, published))
	require.NoError(t, l.TryReserve(ctx, Key{EventID: "E1", SessionID: "S1", TierID: "VIP"}, 2, "res-1"))
	require.NoError(t, l.OnSessionPublished(ctx, published))

	vip, err := l.Get(ctx, Key{EventID: "E1", SessionID: "S1", TierID: "VIP"})
	require.NoError(t, err)
	assert.Equal(t, 8, vip.AvailableQuantity)
}

func TestLedger_OnSessionPublished_InvalidTier(t *testing.T) {
	l, _ := newTestLedger(3)

	err := l.OnSessionPublished(context.Background(), events.SessionPublished{
		EventID:   "E1",
		SessionID: "S1",
		Tiers:     []events.TierStock{{TierID: "GA", Quantity: -1}},
	})

	assert.ErrorIs(t, err, sagaerr.ErrValidation)
}

func TestLedger_OnSessionRemoved(t *testing.T) {
	tests := []struct {
		name      string
		tiers     []string
		remaining []string
	}{
		{"listed tiers only", []string{"VIP"}, []string{"GA"}},
		{"whole session", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newTestLedger(3)
			ctx := context.Background()
			require.NoError(t, l.OnSessionPublished(ctx, events.SessionPublished{
				EventID:   "E1",
				SessionID: "S1",
				Tiers:     []events.TierStock{{TierID: "GA", Quantity: 100}, {TierID: "VIP", Quantity: 10}},
			}))

			require.NoError(t, l.OnSessionRemoved(ctx, events.SessionRemoved{EventID: "E1", SessionID: "S1", Tiers: tt.tiers}))

			keys, err := l.KeysForSession(ctx, "E1", "S1")
			require.NoError(t, err)
			var remaining []string
			for _, k := range keys {
				remaining = append(remaining, k.TierID)
			}
			assert.Equal(t, tt.remaining, remaining)
		})
	}
}
