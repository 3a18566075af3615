package domain

import "fmt"

// CardClass buckets a card for priority-based selection: either it has
// never been reviewed ("new"), or it is classified by its last rating.
type CardClass int

const (
	ClassNew CardClass = iota
	ClassAgain
	ClassHard
	ClassGood
	ClassEasy

	numClasses = 5
)

func (c CardClass) String() string {
	switch c {
	case ClassNew:
		return "new"
	case ClassAgain:
		return "again"
	case ClassHard:
		return "hard"
	case ClassGood:
		return "good"
	case ClassEasy:
		return "easy"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Classes lists all card classes in declaration order.
func Classes() []CardClass {
	return []CardClass{ClassNew, ClassAgain, ClassHard, ClassGood, ClassEasy}
}

// Classify maps a card's SRS state to its selection class. Rated cards
// take the class of their last rating; a rated card whose history was
// cleared by a stats reset falls back to "good".
func Classify(s SrsState) CardClass {
	if s.IsNew() {
		return ClassNew
	}
	last, ok := s.LastRating()
	if !ok {
		return ClassGood
	}
	switch last {
	case Again:
		return ClassAgain
	case Hard:
		return ClassHard
	case Good:
		return ClassGood
	default:
		return ClassEasy
	}
}

// PriorityLevel orders card classes for custom selection. Off excludes a
// class entirely.
type PriorityLevel int

const (
	PriorityOff PriorityLevel = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
)

func (p PriorityLevel) String() string {
	switch p {
	case PriorityOff:
		return "off"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriorityLevel converts the wire form of a level back to a
// PriorityLevel.
func ParsePriorityLevel(s string) (PriorityLevel, error) {
	switch s {
	case "off":
		return PriorityOff, nil
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "highest":
		return PriorityHighest, nil
	default:
		return 0, fmt.Errorf("unknown priority level %q", s)
	}
}

// Preset is the top-level selection policy switch.
type Preset string

const (
	// PresetAuto selects strictly by due date, falling back to new
	// cards when nothing is due.
	PresetAuto Preset = "auto"
	// PresetCustom selects by the per-class priority levels.
	PresetCustom Preset = "custom"
)

// PriorityConfig holds the selection policy: the preset plus one
// priority level per card class. Levels are ignored while the preset is
// auto, but kept so that switching a single level can flip to custom
// without losing the rest.
type PriorityConfig struct {
	Preset Preset
	Levels [numClasses]PriorityLevel
}

// DefaultPriorities returns the auto preset with the stock custom
// levels behind it: again cards first, then hard, then new/good, then
// easy.
func DefaultPriorities() PriorityConfig {
	cfg := PriorityConfig{Preset: PresetAuto}
	cfg.Levels[ClassNew] = PriorityNormal
	cfg.Levels[ClassAgain] = PriorityHighest
	cfg.Levels[ClassHard] = PriorityHigh
	cfg.Levels[ClassGood] = PriorityNormal
	cfg.Levels[ClassEasy] = PriorityLow
	return cfg
}

// Level returns the configured level for a class.
func (c PriorityConfig) Level(class CardClass) PriorityLevel {
	return c.Levels[class]
}

// SetLevel changes one class's level. Touching any level switches the
// preset to custom.
func (c *PriorityConfig) SetLevel(class CardClass, level PriorityLevel) {
	c.Levels[class] = level
	c.Preset = PresetCustom
}
