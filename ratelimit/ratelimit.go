// Package ratelimit provides a simple window-based rate limiter, used to
// throttle message sends per originating IP address.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

// Limiter is a rate limiter with one or more fixed windows, e.g. the last
// minute/hour/day, counting on three classes/subnets of an IP.
type Limiter struct {
	sync.Mutex
	WindowLimits []WindowLimit
	ipmasked     [3][16]byte
}

type limitKey struct {
	index    uint8
	ipmasked [16]byte
}

// WindowLimit holds counters for one window, with limits for each IP
// class/subnet.
type WindowLimit struct {
	Window time.Duration
	Limits [3]int64 // For the individual IP through the widest subnet.
	Time   uint32   // Time/Window.
	Counts map[limitKey]int64
}

// Add attempts to consume "n" items from the rate limiter. If the total for
// this IP and any window would exceed its limit, "n" is not counted and false
// is returned. If now falls in a new interval, the window's counts restart.
func (l *Limiter) Add(ip net.IP, tm time.Time, n int64) bool {
	return l.checkAdd(true, ip, tm, n)
}

// CanAdd returns if n could be added to the limiter.
func (l *Limiter) CanAdd(ip net.IP, tm time.Time, n int64) bool {
	return l.checkAdd(false, ip, tm, n)
}

func (l *Limiter) checkAdd(add bool, ip net.IP, tm time.Time, n int64) bool {
	l.Lock()
	defer l.Unlock()

	// First check all windows.
	for i, wl := range l.WindowLimits {
		t := uint32(tm.UnixNano() / int64(wl.Window))
		if t > wl.Time || wl.Counts == nil {
			l.WindowLimits[i].Time = t
			wl.Counts = map[limitKey]int64{} // Used below.
			l.WindowLimits[i].Counts = wl.Counts
		}

		for j := 0; j < 3; j++ {
			if i == 0 {
				l.ipmasked[j] = maskIP(j, ip)
			}
			if wl.Counts[limitKey{uint8(j), l.ipmasked[j]}]+n > wl.Limits[j] {
				return false
			}
		}
	}
	if !add {
		return true
	}
	// Finally record.
	for _, wl := range l.WindowLimits {
		for j := 0; j < 3; j++ {
			wl.Counts[limitKey{uint8(j), l.ipmasked[j]}] += n
		}
	}
	return true
}

// Reset sets the counters to 0 for ip, e.g. after an action that proves the
// sender is legitimate.
func (l *Limiter) Reset(ip net.IP, tm time.Time) {
	l.Lock()
	defer l.Unlock()

	for i := 0; i < 3; i++ {
		l.ipmasked[i] = maskIP(i, ip)
	}

	for _, wl := range l.WindowLimits {
		t := uint32(tm.UnixNano() / int64(wl.Window))
		if t != wl.Time || wl.Counts == nil {
			continue
		}
		var n int64
		for j := 0; j < 3; j++ {
			k := limitKey{uint8(j), l.ipmasked[j]}
			if j == 0 {
				n = wl.Counts[k]
			}
			wl.Counts[k] -= n
		}
	}
}

func maskIP(i int, ip net.IP) [16]byte {
	isv4 := ip.To4() != nil

	var ipmasked net.IP
	if isv4 {
		switch i {
		case 0:
			ipmasked = ip
		case 1:
			ipmasked = ip.Mask(net.CIDRMask(26, 32))
		case 2:
			ipmasked = ip.Mask(net.CIDRMask(21, 32))
		default:
			panic("missing case for maskip ipv4")
		}
	} else {
		switch i {
		case 0:
			ipmasked = ip.Mask(net.CIDRMask(64, 128))
		case 1:
			ipmasked = ip.Mask(net.CIDRMask(48, 128))
		case 2:
			ipmasked = ip.Mask(net.CIDRMask(32, 128))
		default:
			panic("missing case for masking ipv6")
		}
	}
	return *(*[16]byte)(ipmasked.To16())
}
