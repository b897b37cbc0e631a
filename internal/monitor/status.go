// Package monitor implements the server-side monitored-item engine: the
// per-subscription observers that sample node attributes, apply
// data-change filters, and buffer notifications in bounded queues until
// the owning subscription drains them.
package monitor

import "github.com/gopcua/opcua/ua"

// DataValue status info bits. gopcua keeps these unexported; the queue
// needs them to stamp the overflow marker on the boundary reading.
const (
	infoTypeDataValue ua.StatusCode = 0x00000400
	overflowBit       ua.StatusCode = 0x00000080
)

// StatusGoodWithOverflowBit marks the reading adjacent to a queue
// drop. Not an error: severity stays Good.
//
// ua.StatusOK is declared as a var (not a const) upstream, so this
// cannot live in the const block above.
var StatusGoodWithOverflowBit = ua.StatusOK | infoTypeDataValue | overflowBit

// hasOverflowBit reports whether the status carries the overflow marker.
func hasOverflowBit(s ua.StatusCode) bool {
	return s&overflowBit != 0 && s&infoTypeDataValue != 0
}

// setOverflowBit stamps the overflow marker, preserving severity.
func setOverflowBit(s ua.StatusCode) ua.StatusCode {
	return s | infoTypeDataValue | overflowBit
}

// clearOverflowBit removes the overflow marker.
func clearOverflowBit(s ua.StatusCode) ua.StatusCode {
	return s &^ (infoTypeDataValue | overflowBit)
}
