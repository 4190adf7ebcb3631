// Package domain contains entities without logic, just meta-data
package domain

import "errors"

const MaxPeerIDLen = 64

var (
	ErrPeerIDEmpty   = errors.New("peer id empty")
	ErrPeerIDTooLong = errors.New("peer id too long")
)

// PeerID identifies one endpoint of a call on the signaling plane.
type PeerID string

func (p PeerID) Validate() error {
	if len(p) == 0 {
		return ErrPeerIDEmpty
	}
	if len(p) > MaxPeerIDLen {
		return ErrPeerIDTooLong
	}
	return nil
}
