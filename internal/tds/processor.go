package tds

import (
	"context"
	"errors"

	"github.com/ulvii/go-tds/internal/driverlog"
	"github.com/ulvii/go-tds/internal/tdserr"
)

// TokenProcessor is the single-threaded cooperative token-stream
// reader of spec.md §4.3. It generalizes the teacher's
// tokenProcessor/processSingleResponse goroutine-plus-channel design.
// Protocol violations still panic inside the reading goroutine;
// processResponse recovers them at its top and sends them down the
// same channel as every other token as *tdserr.Error values, so a
// caller never needs to recover from this package.
type TokenProcessor struct {
	buf             *Buffer
	ctx             context.Context
	alwaysEncrypted bool
	dec             Decryptor
	log             driverlog.Gated
	outParams       map[string]*ReturnValue

	tokChan chan interface{}

	Columns  []Column
	CekTable *CekTable
	LastRow  []interface{}
	RowCount int64

	FirstError error
	ReturnCode ReturnStatus
}

// SetOutParams registers the named RPC output parameters the caller
// wants scanned back from RETURNVALUE tokens; Next will populate
// entries as they arrive during IterateResponse.
func (t *TokenProcessor) SetOutParams(names []string) {
	t.outParams = make(map[string]*ReturnValue, len(names))
	for _, n := range names {
		t.outParams[n] = nil
	}
}

// OutParam returns the RETURNVALUE decoded for name, if any arrived.
func (t *TokenProcessor) OutParam(name string) (*ReturnValue, bool) {
	rv, ok := t.outParams[name]
	return rv, ok && rv != nil
}

// NewTokenProcessor starts reading one server response in a background
// goroutine and returns a processor the caller drives with Next /
// IterateResponse.
func NewTokenProcessor(ctx context.Context, buf *Buffer, alwaysEncrypted bool, dec Decryptor, log driverlog.Gated) *TokenProcessor {
	t := &TokenProcessor{
		buf:             buf,
		ctx:             ctx,
		alwaysEncrypted: alwaysEncrypted,
		dec:             dec,
		log:             log,
	}
	t.tokChan = make(chan interface{}, 5)
	go processResponse(buf, t.tokChan, alwaysEncrypted, dec, log, &t.Columns, &t.CekTable)
	return t
}

// processResponse reads tokens from one response message, dispatching
// each decoded token (or decode error) down ch. It owns reading but
// not interpretation: IterateResponse applies tokens to the
// TokenProcessor's accumulated state.
func processResponse(buf *Buffer, ch chan interface{}, alwaysEncrypted bool, dec Decryptor, log driverlog.Gated, columns *[]Column, cekTable **CekTable) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok {
				log.ErrorsIf("token stream error", err)
				ch <- err
			} else {
				ch <- tdserr.Newf(tdserr.KindInvalidTDSFraming, "panic in token stream: %v", r)
			}
		}
		close(ch)
	}()

	packetType, err := buf.BeginRead()
	if err != nil {
		ch <- tdserr.Wrap(tdserr.KindNetworkReadEOF, err)
		return
	}
	if packetType != PacketReply {
		panic(tdserr.Newf(tdserr.KindInvalidTDSFraming, "unexpected packet type in reply: got %v, want %v", packetType, PacketReply))
	}

	errs := make([]SQLMessage, 0, 4)
	for {
		tokenByte, err := buf.readByte()
		if err != nil {
			ch <- tdserr.Wrap(tdserr.KindNetworkReadEOF, err)
			return
		}
		log.DebugIf("token", "type", tokenByte)

		switch Token(tokenByte) {
		case TokenSSPI:
			ch <- ParseSSPIMessage(buf)
			return
		case TokenFedAuthInfo:
			info, err := ParseFedAuthInfo(buf)
			if err != nil {
				ch <- err
			} else {
				ch <- info
			}
			return
		case TokenReturnStatus:
			ch <- ParseReturnStatus(buf)
		case TokenLoginAck:
			ch <- ParseLoginAck(buf)
		case TokenFeatureExtAck:
			ch <- ParseFeatureExtAck(buf)
		case TokenOrder:
			ch <- ParseOrder(buf)
		case TokenDoneInProc:
			done := ParseDone(buf)
			log.RowsIf("rows affected", "count", done.RowCount, "token", "DONEINPROC")
			ch <- doneInProc(done)
		case TokenDone, TokenDoneProc:
			done := ParseDone(buf)
			if done.ServerError() {
				ch <- tdserr.New(tdserr.KindServerError, "SQL Server reported an internal error")
				return
			}
			log.RowsIf("rows affected", "count", done.RowCount, "token", "DONE")
			ch <- withErrors(done, errs)
			if !done.HasMore() {
				return
			}
		case TokenColMetadata:
			cols, cek, err := ParseColMetadata72(buf, alwaysEncrypted)
			if err != nil {
				ch <- err
				return
			}
			*columns = cols
			*cekTable = cek
			ch <- cols
		case TokenRow:
			row := make([]interface{}, len(*columns))
			if err := ParseRow(buf, *columns, dec, row); err != nil {
				ch <- err
				return
			}
			ch <- row
		case TokenNbcRow:
			row := make([]interface{}, len(*columns))
			if err := ParseNbcRow(buf, *columns, dec, row); err != nil {
				ch <- err
				return
			}
			ch <- row
		case TokenEnvChange:
			changes, err := ReadEnvChanges(buf)
			if err != nil {
				ch <- err
				return
			}
			ch <- changes
		case TokenError:
			msg := ParseSQLMessage(buf)
			errs = append(errs, msg)
			log.ErrorsIf("server error", tdserr.Newf(tdserr.KindServerError, "%s", msg.Message))
		case TokenInfo:
			msg := ParseSQLMessage(buf)
			log.MessagesIf("server info", "message", msg.Message)
		case TokenReturnValue:
			rv, err := ParseReturnValue(buf, alwaysEncrypted, dec)
			if err != nil {
				ch <- err
				return
			}
			ch <- rv
		default:
			panic(tdserr.Newf(tdserr.KindUnexpectedToken, "unknown token type 0x%02x", tokenByte))
		}
	}
}

// doneWithErrors/doneInProc distinguish DONE from DONEINPROC on the
// channel without introducing a second exported Done-like type.
type doneWithErrors struct {
	Done
	Errors []SQLMessage
}

type doneInProc Done

func withErrors(d Done, errs []SQLMessage) doneWithErrors {
	return doneWithErrors{Done: d, Errors: errs}
}

// Stream drains the current response the same way IterateResponse
// does, folding DONE/ENVCHANGE/return-status bookkeeping into the
// processor's accumulated state, but additionally invokes onColumns
// and onRow (when non-nil) for every schema and row token as it
// arrives, for callers that need every row rather than only the last
// one IterateResponse retains. It returns the same error IterateResponse
// would; FirstError, RowCount, and ReturnCode are populated identically.
func (t *TokenProcessor) Stream(onColumns func([]Column), onRow func([]interface{})) error {
	for {
		tok, err := t.Next()
		if err != nil {
			return err
		}
		if tok == nil {
			return t.FirstError
		}
		switch v := tok.(type) {
		case []Column:
			t.Columns = v
			if onColumns != nil {
				onColumns(v)
			}
		case []interface{}:
			t.LastRow = v
			if onRow != nil {
				onRow(v)
			}
		case doneInProc:
			if Done(v).HasCount() {
				t.RowCount += int64(v.RowCount)
			}
		case doneWithErrors:
			if v.HasCount() {
				t.RowCount += int64(v.RowCount)
			}
			if (v.IsError() || len(v.Errors) > 0) && t.FirstError == nil {
				t.FirstError = errorFromSQLMessages(v.Errors)
			}
		case ReturnStatus:
			t.ReturnCode = v
		case ReturnValue:
			if t.outParams != nil {
				rv := v
				t.outParams[v.Name] = &rv
			}
		case []EnvChange:
			// ENVCHANGE side effects (database switch, packet resize,
			// routing) are applied by internal/connect, which owns
			// session state; the processor just surfaces them.
		}
	}
}

// IterateResponse drains the current response, folding tokens into the
// processor's accumulated state, until the response completes or an
// error occurs (mirrors the teacher's tokenProcessor.iterateResponse).
func (t *TokenProcessor) IterateResponse() error {
	for {
		tok, err := t.Next()
		if err != nil {
			return err
		}
		if tok == nil {
			return t.FirstError
		}
		switch v := tok.(type) {
		case []Column:
			t.Columns = v
		case []interface{}:
			t.LastRow = v
		case doneInProc:
			if Done(v).HasCount() {
				t.RowCount += int64(v.RowCount)
			}
		case doneWithErrors:
			if v.HasCount() {
				t.RowCount += int64(v.RowCount)
			}
			if (v.IsError() || len(v.Errors) > 0) && t.FirstError == nil {
				t.FirstError = errorFromSQLMessages(v.Errors)
			}
		case ReturnStatus:
			t.ReturnCode = v
		case ReturnValue:
			if t.outParams != nil {
				rv := v
				t.outParams[v.Name] = &rv
			}
		case []EnvChange:
			// ENVCHANGE side effects (database switch, packet resize,
			// routing) are applied by internal/connect, which owns
			// session state; the processor just surfaces them.
		}
	}
}

func errorFromSQLMessages(msgs []SQLMessage) error {
	if len(msgs) == 0 {
		return tdserr.New(tdserr.KindServerError, "request failed but server provided no reason")
	}
	first := msgs[0]
	return tdserr.Newf(tdserr.KindServerError, "%s", first.Message)
}

// Next returns the next token of the current response, prioritizing
// data already queued on the channel over context cancellation, then
// driving the attention-confirmation handshake when ctx is done.
func (t *TokenProcessor) Next() (interface{}, error) {
	select {
	case tok, more := <-t.tokChan:
		if !more {
			return nil, nil
		}
		if err, ok := tok.(error); ok {
			return nil, err
		}
		return tok, nil
	default:
	}

	select {
	case tok, more := <-t.tokChan:
		if !more {
			return nil, nil
		}
		if err, ok := tok.(error); ok {
			return nil, err
		}
		return tok, nil
	case <-t.ctx.Done():
		if err := SendAttention(t.buf); err != nil {
			return nil, err
		}
		if readCancelConfirmation(t.tokChan) {
			return nil, t.ctx.Err()
		}
		t.tokChan = make(chan interface{}, 5)
		go processResponse(t.buf, t.tokChan, t.alwaysEncrypted, t.dec, t.log, &t.Columns, &t.CekTable)
		if readCancelConfirmation(t.tokChan) {
			return nil, t.ctx.Err()
		}
		return nil, errors.New("did not get cancellation confirmation from the server")
	}
}

func readCancelConfirmation(ch chan interface{}) bool {
	for tok := range ch {
		if d, ok := tok.(doneWithErrors); ok && d.Status&DoneAttn != 0 {
			return true
		}
	}
	return false
}

// SendAttention writes the empty ATTENTION packet that requests the
// server cancel the in-flight batch, per spec.md §4.6 "Command
// Cancellation".
func SendAttention(b *Buffer) error {
	b.StartMessage(PacketCancelReq)
	return b.EndMessage()
}
