package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage names a phase of a season's bracket.
type Stage string

const (
	StageGroup        Stage = "group"
	StageRoundOf16    Stage = "round_of_16"
	StageRoundOf32    Stage = "round_of_32"
	StageQuarterfinal Stage = "quarterfinal"
	StageSemifinal    Stage = "semifinal"
	StageThirdPlace   Stage = "third_place"
	StageFinal        Stage = "final"
)

const roundOfPrefix = "round_of_"

// StageKind is the closed set of progression behaviours a stage can have.
type StageKind int

const (
	KindUnknown StageKind = iota
	KindGroup
	KindKnockout
	KindSemifinal
	KindThirdPlace
	KindFinal
)

func (k StageKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindKnockout:
		return "knockout"
	case KindSemifinal:
		return "semifinal"
	case KindThirdPlace:
		return "third_place"
	case KindFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Kind maps a stage name onto its progression behaviour.
func (s Stage) Kind() StageKind {
	switch s {
	case StageGroup:
		return KindGroup
	case StageQuarterfinal:
		return KindKnockout
	case StageSemifinal:
		return KindSemifinal
	case StageThirdPlace:
		return KindThirdPlace
	case StageFinal:
		return KindFinal
	}
	if n, ok := s.RoundOfSize(); ok && n > 0 {
		return KindKnockout
	}
	return KindUnknown
}

// RoundOfSize returns N for a round_of_N stage.
func (s Stage) RoundOfSize() (int, bool) {
	str := string(s)
	if !strings.HasPrefix(str, roundOfPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(str, roundOfPrefix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// RoundOf builds a round_of_N stage name.
func RoundOf(n int) Stage {
	return Stage(fmt.Sprintf("%s%d", roundOfPrefix, n))
}

func (s Stage) Valid() bool {
	return s.Kind() != KindUnknown
}

// StageForPlayerCount is the bracket sizing table used for a fresh knockout round:
// <=2 final, <=4 semifinal, <=8 quarterfinal, <=16 round_of_16, otherwise round_of_32.
func StageForPlayerCount(n int) Stage {
	switch {
	case n <= 2:
		return StageFinal
	case n <= 4:
		return StageSemifinal
	case n <= 8:
		return StageQuarterfinal
	case n <= 16:
		return StageRoundOf16
	default:
		return StageRoundOf32
	}
}
