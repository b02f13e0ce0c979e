package realtime

import (
	"testing"
	"time"

	domain "github.com/NordCoder/Questline/internal/domain/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func change(table, typ, record, old string) domain.Message {
	payload := `{"type":"` + typ + `","schema":"public","table":"` + table + `","record":` + record
	if old != "" {
		payload += `,"old_record":` + old
	}
	payload += `}`
	return domain.Message{Kind: domain.BindingChanges, Event: typ, Table: table, Payload: []byte(payload)}
}

func TestDecode_ActivityRowWithNumericIDs(t *testing.T) {
	ev, err := Decode(change("activities", "INSERT",
		`{"id":42,"user_id":"u1","type":"member_joined","title":"Welcome","created_at":"2026-01-02T03:04:05.000001+00:00"}`, ""))
	require.NoError(t, err)

	a, ok := ev.(domain.ActivityEvent)
	require.True(t, ok)
	assert.Equal(t, "42", a.ID)
	assert.Equal(t, domain.ActivityMemberJoined, a.Type)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 1000, time.UTC), a.CreatedAt)
}

func TestDecode_LeaderboardRankChange(t *testing.T) {
	ev, err := Decode(change("leaderboard", "UPDATE",
		`{"id":"l1","user_id":"u1","points":120,"rank":3}`,
		`{"id":"l1","user_id":"u1","points":100,"rank":5}`))
	require.NoError(t, err)
	assert.Equal(t, domain.LeaderboardRankChanged, ev.(domain.LeaderboardUpdate).Type)

	ev, err = Decode(change("leaderboard", "UPDATE",
		`{"id":"l1","user_id":"u1","points":130,"rank":3}`,
		`{"id":"l1","user_id":"u1","points":120,"rank":3}`))
	require.NoError(t, err)
	assert.Equal(t, domain.LeaderboardPointsAwarded, ev.(domain.LeaderboardUpdate).Type)
}

func TestDecode_Errors(t *testing.T) {
	cases := []struct {
		name string
		msg  domain.Message
		want error
	}{
		{"delete ignored", change("notifications", "DELETE", `{"id":"n1"}`, ""), ErrIgnoredChange},
		{"unknown table", change("posts", "INSERT", `{"id":"p1"}`, ""), ErrUnknownEvent},
		{"unknown broadcast", domain.Message{Kind: domain.BindingBroadcast, Event: "typing", Payload: []byte(`{}`)}, ErrUnknownEvent},
		{"notification without id", domain.Message{Kind: domain.BindingBroadcast, Event: EventNotification, Payload: []byte(`{"notification":{}}`)}, ErrMalformed},
		{"bad timestamp", change("activities", "INSERT", `{"id":"a","type":"level_up","created_at":"yesterday"}`, ""), ErrMalformed},
		{"unknown kind", domain.Message{Kind: "presence"}, ErrUnknownEvent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.msg)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDecode_BroadcastNotificationDefaultsToInsert(t *testing.T) {
	ev, err := Decode(domain.Message{
		Kind:    domain.BindingBroadcast,
		Event:   EventNotification,
		Payload: []byte(`{"notification":{"id":"n1","user_id":"u1","type":"system","title":"Hi"}}`),
	})
	require.NoError(t, err)
	n := ev.(domain.NotificationEvent)
	assert.Equal(t, domain.ChangeInsert, n.Change)
	assert.Equal(t, domain.KindNotification, n.Kind())
}
