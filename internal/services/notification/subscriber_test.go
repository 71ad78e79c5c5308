package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartdine/internal/logger"
	"smartdine/internal/messaging"
	"smartdine/internal/models"
)

type fakeSource struct {
	bodies [][]byte
	errs   []error
	closed bool
}

// Consume decodes each body the way the broker consumer does and skips the
// ones that do not parse
func (f *fakeSource) Consume(ctx context.Context, handler messaging.ChangeHandler) error {
	for _, body := range f.bodies {
		event, err := messaging.ParseChange(body)
		if err == nil {
			err = handler(ctx, event)
		}
		f.errs = append(f.errs, err)
	}
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

var at = time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)

func TestFormatChange(t *testing.T) {
	tests := []struct {
		name  string
		event models.ChangeEvent
		want  []string
	}{
		{
			name:  "no transitions",
			event: models.ChangeEvent{Collection: models.CollectionOrders, Revision: 4, EntityIDs: []string{"o1", "o2"}, Timestamp: at},
			want:  []string{"[2026-03-01 18:30:00] orders updated to revision 4: o1, o2"},
		},
		{
			name: "order ready",
			event: models.ChangeEvent{Collection: models.CollectionOrders, Timestamp: at, Transitions: []models.StatusChange{
				{Collection: models.CollectionOrders, EntityID: "o1", From: "cooking", To: "ready", ChangedBy: "chef"},
			}},
			want: []string{"[2026-03-01 18:30:00] Order o1 is ready to serve! Prepared by chef."},
		},
		{
			name: "table seated and bill paid",
			event: models.ChangeEvent{Collection: models.CollectionTables, Timestamp: at, Transitions: []models.StatusChange{
				{Collection: models.CollectionTables, EntityID: "t1", From: "free", To: "occupied", ChangedBy: "waiter", Notes: "seated order o1"},
				{Collection: models.CollectionBills, EntityID: "b1", From: "open", To: "paid", ChangedBy: "cashier"},
			}},
			want: []string{
				"[2026-03-01 18:30:00] Table t1 changed from 'free' to 'occupied' by waiter. (seated order o1)",
				"[2026-03-01 18:30:00] Bill b1 has been paid.",
			},
		},
		{
			name: "created and voided",
			event: models.ChangeEvent{Collection: models.CollectionBills, Timestamp: at, Transitions: []models.StatusChange{
				{Collection: models.CollectionBills, EntityID: "b2", To: "open", ChangedBy: "cashier"},
				{Collection: models.CollectionBills, EntityID: "b2", From: "open", To: "voided", ChangedBy: "admin"},
			}},
			want: []string{
				"[2026-03-01 18:30:00] Bill b2 created as open by cashier.",
				"[2026-03-01 18:30:00] Bill b2 has been voided by admin.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatChange(tt.event))
		})
	}
}

func TestSubscriberPrintsEvents(t *testing.T) {
	event := models.ChangeEvent{Collection: models.CollectionTables, Revision: 2, EntityIDs: []string{"t1"}, Timestamp: at}
	body, err := json.Marshal(event)
	require.NoError(t, err)

	source := &fakeSource{bodies: [][]byte{body, []byte("not json")}}
	var out bytes.Buffer
	s := NewSubscriber(source, &out, logger.Nop())

	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, "[2026-03-01 18:30:00] tables updated to revision 2: t1\n", out.String())
	require.Len(t, source.errs, 2)
	assert.NoError(t, source.errs[0])
	assert.Error(t, source.errs[1])
	assert.True(t, source.closed)
}
