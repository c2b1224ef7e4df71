package tds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/tdserr"
)

func newTestProcessor(t *testing.T) *TokenProcessor {
	t.Helper()
	return &TokenProcessor{
		ctx:     context.Background(),
		tokChan: make(chan interface{}, 16),
	}
}

func TestIterateResponseAccumulatesRowCountAndOutParams(t *testing.T) {
	tp := newTestProcessor(t)
	tp.SetOutParams([]string{"@out"})

	tp.tokChan <- []Column{{Name: "id"}}
	tp.tokChan <- []interface{}{int32(1)}
	tp.tokChan <- ReturnValue{Name: "@out", Value: int32(42)}
	tp.tokChan <- withErrors(Done{Status: DoneCount, RowCount: 1}, nil)
	close(tp.tokChan)

	require.NoError(t, tp.IterateResponse())
	assert.Equal(t, int64(1), tp.RowCount)
	assert.Equal(t, []interface{}{int32(1)}, tp.LastRow)
	require.Len(t, tp.Columns, 1)
	assert.Equal(t, "id", tp.Columns[0].Name)

	rv, ok := tp.OutParam("@out")
	require.True(t, ok)
	assert.Equal(t, int32(42), rv.Value)

	_, ok = tp.OutParam("@missing")
	assert.False(t, ok)
}

func TestIterateResponseAccumulatesAcrossDoneInProc(t *testing.T) {
	tp := newTestProcessor(t)

	tp.tokChan <- doneInProc(Done{Status: DoneCount, RowCount: 3})
	tp.tokChan <- doneInProc(Done{Status: DoneCount, RowCount: 4})
	tp.tokChan <- withErrors(Done{Status: DoneFinal}, nil)
	close(tp.tokChan)

	require.NoError(t, tp.IterateResponse())
	assert.Equal(t, int64(7), tp.RowCount)
}

func TestIterateResponseCapturesFirstErrorFromServerErrors(t *testing.T) {
	tp := newTestProcessor(t)

	msg := SQLMessage{Number: 547, Message: "constraint violation"}
	tp.tokChan <- withErrors(Done{Status: DoneError | DoneFinal}, []SQLMessage{msg})
	close(tp.tokChan)

	err := tp.IterateResponse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint violation")
}

func TestIterateResponsePropagatesChannelError(t *testing.T) {
	tp := newTestProcessor(t)
	tp.tokChan <- tdserr.New(tdserr.KindUnexpectedToken, "boom")
	close(tp.tokChan)

	err := tp.IterateResponse()
	assert.Error(t, err)
}

func TestIterateResponseCapturesReturnStatus(t *testing.T) {
	tp := newTestProcessor(t)
	tp.tokChan <- ReturnStatus(0)
	tp.tokChan <- withErrors(Done{Status: DoneFinal}, nil)
	close(tp.tokChan)

	require.NoError(t, tp.IterateResponse())
	assert.Equal(t, ReturnStatus(0), tp.ReturnCode)
}

func TestStreamInvokesCallbacksForEveryRowAndAccumulatesRowCount(t *testing.T) {
	tp := newTestProcessor(t)

	tp.tokChan <- []Column{{Name: "id"}}
	tp.tokChan <- []interface{}{int32(1)}
	tp.tokChan <- []interface{}{int32(2)}
	tp.tokChan <- []interface{}{int32(3)}
	tp.tokChan <- withErrors(Done{Status: DoneCount, RowCount: 3}, nil)
	close(tp.tokChan)

	var gotColumns []Column
	var gotRows [][]interface{}
	err := tp.Stream(
		func(cols []Column) { gotColumns = cols },
		func(row []interface{}) { gotRows = append(gotRows, row) },
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), tp.RowCount)
	require.Len(t, gotColumns, 1)
	assert.Equal(t, "id", gotColumns[0].Name)
	assert.Equal(t, [][]interface{}{
		{int32(1)}, {int32(2)}, {int32(3)},
	}, gotRows)
}

func TestStreamToleratesNilCallbacks(t *testing.T) {
	tp := newTestProcessor(t)
	tp.tokChan <- []Column{{Name: "id"}}
	tp.tokChan <- []interface{}{int32(1)}
	tp.tokChan <- withErrors(Done{Status: DoneCount, RowCount: 1}, nil)
	close(tp.tokChan)

	require.NoError(t, tp.Stream(nil, nil))
	assert.Equal(t, int64(1), tp.RowCount)
}

func TestStreamCapturesFirstErrorFromServerErrors(t *testing.T) {
	tp := newTestProcessor(t)
	msg := SQLMessage{Number: 547, Message: "constraint violation"}
	tp.tokChan <- withErrors(Done{Status: DoneError | DoneFinal}, []SQLMessage{msg})
	close(tp.tokChan)

	err := tp.Stream(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "constraint violation")
}
