package tds

import (
	"sync"
	"time"

	"github.com/golang-sql/civil"
	"github.com/ulvii/go-tds/internal/tdserr"
)

// ceBase is day zero of the "days since the Common Era" encoding: the
// proleptic Gregorian date 0001-01-01, used by DATE/TIME2/DATETIME2/
// DATETIMEOFFSET.
var ceBase = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

// nanosLen maps a fractional-seconds scale (0..7) to the wire length in
// bytes of the nanos-since-midnight field, per spec.md §4.2.
var nanosLen = [8]int{3, 3, 3, 4, 4, 5, 5, 5}

var (
	gregorianOnce       sync.Once
	gregorianCorrection time.Duration
)

// probeGregorianCorrection determines, once, whether the host runtime's
// calendar conforms to the hybrid Julian/Gregorian convention around
// the October 1582 cutover (Design Notes, "Calendar hazard"). Go's
// time package is purely proleptic Gregorian, so no correction is
// needed; the probe exists so the decision is made in one place and
// is easy to re-derive if that ever changes.
func probeGregorianCorrection() time.Duration {
	gregorianOnce.Do(func() {
		// Go's civil calendar arithmetic is proleptic Gregorian
		// throughout, unlike some host runtimes' hybrid calendars, so
		// no correction is required here.
		gregorianCorrection = 0
	})
	return gregorianCorrection
}

func daysToTime(days int32) time.Time {
	return ceBase.AddDate(0, 0, int(days)).Add(probeGregorianCorrection())
}

func timeToDays(t time.Time) int32 {
	// Whole seconds, not time.Duration, which saturates after ~292 years.
	secs := t.Unix() - ceBase.Add(probeGregorianCorrection()).Unix()
	return int32(secs / 86400)
}

// readDays3 reads the 3-byte little-endian days-since-CE field common
// to DATE/DATETIME2/DATETIMEOFFSET. A value that sign-extends negative
// is an invalid-TDS signal.
func (b *Buffer) readDays3() int32 {
	buf := b.Bytes(3)
	v := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16
	if v&0x800000 != 0 {
		panic(tdserr.New(tdserr.KindInvalidTokenContent, "negative days-since-CE value"))
	}
	return v
}

func (b *Buffer) writeDays3(days int32) {
	b.WriteByte(byte(days))
	b.WriteByte(byte(days >> 8))
	b.WriteByte(byte(days >> 16))
}

// readNanos reads the variable-length nanos-since-midnight field for
// the given scale and returns nanoseconds since midnight.
func (b *Buffer) readNanos(scale int) int64 {
	if scale < 0 || scale > 7 {
		panic(tdserr.Newf(tdserr.KindInvalidTokenContent, "time scale out of range: %d", scale))
	}
	n := nanosLen[scale]
	buf := b.Bytes(n)
	var raw int64
	for i := n - 1; i >= 0; i-- {
		raw = raw<<8 | int64(buf[i])
	}
	ns := raw * pow10(7-scale) * 100
	const dayNanos = 24 * 3600 * 1e9
	if ns < 0 || ns >= dayNanos {
		panic(tdserr.Newf(tdserr.KindInvalidTokenContent, "nanos-since-midnight out of range: %d", ns))
	}
	return ns
}

func (b *Buffer) writeNanos(ns int64, scale int) {
	n := nanosLen[scale]
	raw := ns / (pow10(7-scale) * 100)
	for i := 0; i < n; i++ {
		b.WriteByte(byte(raw))
		raw >>= 8
	}
}

func pow10(n int) int64 {
	r := int64(1)
	for i := 0; i < n; i++ {
		r *= 10
	}
	return r
}

// ReadDate reads a DATE value: 3-byte days-since-CE.
func (b *Buffer) ReadDate() civil.Date {
	days := b.readDays3()
	t := daysToTime(days)
	return civil.DateOf(t)
}

// WriteDate writes a DATE value.
func (b *Buffer) WriteDate(d civil.Date) {
	b.writeDays3(timeToDays(d.In(time.UTC)))
}

// ReadTime reads a TIME(scale) value: nanos-since-midnight only.
func (b *Buffer) ReadTime(scale int) time.Duration {
	return time.Duration(b.readNanos(scale))
}

// WriteTime writes a TIME(scale) value.
func (b *Buffer) WriteTime(d time.Duration, scale int) {
	b.writeNanos(int64(d), scale)
}

// ReadDateTime2 reads a DATETIME2(scale) value: nanos-since-midnight
// then 3-byte days-since-CE.
func (b *Buffer) ReadDateTime2(scale int) time.Time {
	ns := b.readNanos(scale)
	days := b.readDays3()
	base := daysToTime(days)
	return base.Add(time.Duration(ns))
}

// WriteDateTime2 writes a DATETIME2(scale) value.
func (b *Buffer) WriteDateTime2(t time.Time, scale int) {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	ns := t.Sub(midnight)
	b.writeNanos(int64(ns), scale)
	b.writeDays3(timeToDays(midnight))
}

// ReadDateTimeOffset reads a DATETIMEOFFSET(scale) value: nanos, days,
// then a signed 2-byte minutes offset applied as a fixed time zone.
func (b *Buffer) ReadDateTimeOffset(scale int) time.Time {
	ns := b.readNanos(scale)
	days := b.readDays3()
	offsetMin := int16(b.Uint16())
	utc := daysToTime(days).Add(time.Duration(ns))
	loc := time.FixedZone("", int(offsetMin)*60)
	return utc.In(loc)
}

// WriteDateTimeOffset writes a DATETIMEOFFSET(scale) value.
func (b *Buffer) WriteDateTimeOffset(t time.Time, scale int) {
	_, offsetSec := t.Zone()
	utc := t.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	ns := utc.Sub(midnight)
	b.writeNanos(int64(ns), scale)
	b.writeDays3(timeToDays(midnight))
	b.WriteUint16(uint16(int16(offsetSec / 60)))
}

// datetimeBase is day zero (1900-01-01) for the legacy 8-byte DATETIME
// and 4-byte SMALLDATETIME encodings.
var datetimeBase = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// ReadDateTime reads the legacy 8-byte DATETIME: 4-byte days-since-1900
// + 4-byte ticks-since-midnight at 1/300s resolution.
func (b *Buffer) ReadDateTime() time.Time {
	days := b.Int32()
	ticks := b.Int32()
	ms := (int64(ticks)*10 + 1) / 3
	return datetimeBase.AddDate(0, 0, int(days)).Add(time.Duration(ms) * time.Millisecond)
}

// WriteDateTime writes the legacy 8-byte DATETIME, rounding to the
// nearest 1/300 second per spec.md §8 Testable Property 4.
func (b *Buffer) WriteDateTime(t time.Time) {
	t = t.UTC()
	days := int32(t.Sub(datetimeBase).Hours() / 24)
	midnight := datetimeBase.AddDate(0, 0, int(days))
	ms := t.Sub(midnight).Milliseconds()
	ticks := int32((ms*3 + 5) / 10)
	b.WriteUint32(uint32(days))
	b.WriteUint32(uint32(ticks))
}

// ReadSmallDateTime reads the legacy 4-byte SMALLDATETIME: u16 days +
// u16 minutes, truncated to the nearest minute.
func (b *Buffer) ReadSmallDateTime() time.Time {
	days := b.Uint16()
	minutes := b.Uint16()
	return datetimeBase.AddDate(0, 0, int(days)).Add(time.Duration(minutes) * time.Minute)
}

// WriteSmallDateTime writes the legacy 4-byte SMALLDATETIME.
func (b *Buffer) WriteSmallDateTime(t time.Time) {
	t = t.UTC()
	days := uint16(t.Sub(datetimeBase).Hours() / 24)
	midnight := datetimeBase.AddDate(0, 0, int(days))
	minutes := uint16(t.Sub(midnight).Minutes())
	b.WriteUint16(days)
	b.WriteUint16(minutes)
}
