package app

import (
	"fmt"
	"strings"

	"github.com/dkeye/livecook/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a member whose outbound queue overflowed.
type Policy interface {
	OnBackPressure(member *core.Connection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(*core.Connection) BackpressureAction {
	return KickMember
}

// HostPolicy decides what happens when a second connection claims the host
// role of a session that already has one.
type HostPolicy int

const (
	// HostReject demotes the new claimant to viewer.
	HostReject HostPolicy = iota
	// HostReclaim lets the same user id take the role over from its older
	// connection.
	HostReclaim
)

func ParseHostPolicy(s string) (HostPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return HostReject, nil
	case "reclaim":
		return HostReclaim, nil
	}
	return HostReject, fmt.Errorf("unknown host policy %q", s)
}

func (p HostPolicy) String() string {
	if p == HostReclaim {
		return "reclaim"
	}
	return "reject"
}
