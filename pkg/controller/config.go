package controller

import (
	"time"

	"ds485d/pkg/frame"
)

// Dfl* are the timing defaults applied to zero Config fields.
const (
	DflSenseWindow         = 2500 * time.Millisecond
	DflSenseJitter         = 1000 * time.Millisecond
	DflReadPoll            = 50 * time.Millisecond
	DflSolicitInterval     = time.Second
	DflSolicitWindow       = 50 * time.Millisecond
	DflAckTimeout          = 50 * time.Millisecond
	DflResponseTimeout     = 100 * time.Millisecond
	DflTokenReturnTimeout  = 200 * time.Millisecond
	DflTokenTimeout        = 15 * time.Second
	DflJoinTimeout         = 10 * time.Second
	DflJoinResponseTimeout = 5 * time.Second
	DflFirstTokenTimeout   = 20 * time.Second
	DflMasterIdle          = 10 * time.Millisecond
	DflErrorBackoff        = time.Second

	DflJoinSkipMin       = 10
	DflJoinSkipMax       = 19
	DflWarmupTokens      = 1
	DflMaxFramesPerToken = 4
	DflMaxChecksumErrors = 10
	DflMaxRetries        = 5
)

// Config tunes the arbitration protocol. Zero fields take the Dfl*
// defaults, so the zero Config is usable.
type Config struct {
	// DSID is announced when joining an existing ring.
	DSID frame.DSID

	// SenseWindow plus a random share of SenseJitter is how long a
	// starting node listens before electing itself master.
	SenseWindow time.Duration
	SenseJitter time.Duration
	// ReadPoll bounds each blocking read of the reader goroutine.
	ReadPoll time.Duration

	SolicitInterval     time.Duration
	SolicitWindow       time.Duration
	AckTimeout          time.Duration
	ResponseTimeout     time.Duration
	TokenReturnTimeout  time.Duration
	TokenTimeout        time.Duration
	JoinTimeout         time.Duration
	JoinResponseTimeout time.Duration
	FirstTokenTimeout   time.Duration
	MasterIdle          time.Duration
	ErrorBackoff        time.Duration

	// JoinSkipMin and JoinSkipMax bound the random number of solicits a
	// joining node lets pass before it answers. Both zero selects the
	// default range.
	JoinSkipMin int
	JoinSkipMax int
	// NoJoinSkip answers the first solicit regardless of the skip range.
	NoJoinSkip bool
	// DenyShortJoin ignores regular solicits and joins only on the long
	// variant.
	DenyShortJoin bool

	// WarmupTokens is how many token arrivals a new slave must see before
	// it transmits queued frames.
	WarmupTokens      int
	MaxFramesPerToken int
	// MaxChecksumErrors consecutive checksum failures force a resync.
	MaxChecksumErrors int
	// MaxRetries consecutive failures make Run give up.
	MaxRetries int
}

func setDur(d *time.Duration, dfl time.Duration) {
	if *d <= 0 {
		*d = dfl
	}
}

func setInt(v *int, dfl int) {
	if *v <= 0 {
		*v = dfl
	}
}

func (c Config) withDefaults() Config {
	if c.DSID == frame.NullDSID {
		c.DSID = frame.DefaultDSID
	}
	setDur(&c.SenseWindow, DflSenseWindow)
	if c.SenseJitter < 0 {
		c.SenseJitter = 0
	} else if c.SenseJitter == 0 {
		c.SenseJitter = DflSenseJitter
	}
	setDur(&c.ReadPoll, DflReadPoll)
	setDur(&c.SolicitInterval, DflSolicitInterval)
	setDur(&c.SolicitWindow, DflSolicitWindow)
	setDur(&c.AckTimeout, DflAckTimeout)
	setDur(&c.ResponseTimeout, DflResponseTimeout)
	setDur(&c.TokenReturnTimeout, DflTokenReturnTimeout)
	setDur(&c.TokenTimeout, DflTokenTimeout)
	setDur(&c.JoinTimeout, DflJoinTimeout)
	setDur(&c.JoinResponseTimeout, DflJoinResponseTimeout)
	setDur(&c.FirstTokenTimeout, DflFirstTokenTimeout)
	setDur(&c.MasterIdle, DflMasterIdle)
	setDur(&c.ErrorBackoff, DflErrorBackoff)
	if c.NoJoinSkip {
		c.JoinSkipMin, c.JoinSkipMax = 0, 0
	} else if c.JoinSkipMin <= 0 && c.JoinSkipMax <= 0 {
		c.JoinSkipMin, c.JoinSkipMax = DflJoinSkipMin, DflJoinSkipMax
	}
	if c.JoinSkipMax < c.JoinSkipMin {
		c.JoinSkipMax = c.JoinSkipMin
	}
	setInt(&c.WarmupTokens, DflWarmupTokens)
	setInt(&c.MaxFramesPerToken, DflMaxFramesPerToken)
	setInt(&c.MaxChecksumErrors, DflMaxChecksumErrors)
	setInt(&c.MaxRetries, DflMaxRetries)
	return c
}
