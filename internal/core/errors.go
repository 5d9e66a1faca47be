// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet errors
	ErrPacketTooShort      = errors.New("ipgw: packet too short")
	ErrUnsupportedLinkType = errors.New("ipgw: unsupported link type")

	// Pipeline errors
	ErrPipelineStopped = errors.New("ipgw: pipeline stopped")
	ErrSinkClosed      = errors.New("ipgw: sink closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("ipgw: invalid configuration")
)
