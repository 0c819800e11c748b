package journal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"xficredit/core/types"
)

type namedEvent struct{ name string }

func (e namedEvent) EventType() string { return e.name }

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	j, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestAppendAndList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	j.now = func() time.Time { base = base.Add(time.Second); return base }

	for i := 0; i < 5; i++ {
		_, err := j.Append(ctx, &types.Event{Type: "yield.deposited", Attributes: map[string]string{"positionId": fmt.Sprint(i + 1)}})
		require.NoError(t, err)
	}

	page, err := j.List(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(1), page[0].Seq)

	rest, err := j.List(ctx, page[1].Seq, 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	evt, err := rest[0].Event()
	require.NoError(t, err)
	require.Equal(t, "3", evt.Attr("positionId"))
}

func TestEmitFlattensPayloads(t *testing.T) {
	j := newTestJournal(t)
	j.Emit(namedEvent{name: "module.paused"})
	j.Emit(nil)

	records, err := j.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "module.paused", records[0].Type)
	require.Len(t, records[0].ID, 64)
}

func TestEventIDStable(t *testing.T) {
	at := time.Unix(1_700_000_000, 42)
	a := &types.Event{Type: "lending.loanRepaid", Attributes: map[string]string{"loanId": "1", "amount": "10"}}
	b := &types.Event{Type: "lending.loanRepaid", Attributes: map[string]string{"amount": "10", "loanId": "1"}}
	require.Equal(t, EventID(a, at), EventID(b, at))
	require.NotEqual(t, EventID(a, at), EventID(a, at.Add(time.Nanosecond)))

	c := &types.Event{Type: "lending.loanRepaid", Attributes: map[string]string{"loanId": "2", "amount": "10"}}
	require.NotEqual(t, EventID(a, at), EventID(c, at))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.ErrorIs(t, err, ErrUnknownDriver)
}
