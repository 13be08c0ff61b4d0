package ui

import "strings"

// Sparkline renders a fixed-size ring of samples as Unicode block
// characters, one character per sample, oldest first.
type Sparkline struct {
	samples []float64
	width   int
	head    int
	count   int
	max     float64
}

// SparklineChars are the block characters used for rendering, ordered
// by height.
var SparklineChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// NewSparkline creates a sparkline holding width samples.
// Non-positive widths fall back to 60.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{
		samples: make([]float64, width),
		width:   width,
	}
}

// Add appends a sample, evicting the oldest once the ring is full.
func (s *Sparkline) Add(value float64) {
	s.samples[s.head] = value
	s.head = (s.head + 1) % s.width
	s.count++

	if value > s.max {
		s.max = value
	}
	// Evictions can drop the maximum, so rescan once per full wrap.
	if s.count%s.width == 0 {
		s.recalculateMax()
	}
}

func (s *Sparkline) recalculateMax() {
	s.max = 0
	for _, v := range s.samples {
		if v > s.max {
			s.max = v
		}
	}
	if s.max < 1 {
		s.max = 1
	}
}

// Render returns the full-width sparkline.
func (s *Sparkline) Render() string {
	return s.RenderWithWidth(s.width)
}

// RenderWithWidth returns the newest samples rendered at the given
// width. Positions not yet filled render as spaces; widths outside
// (0, ring size] render the full ring.
func (s *Sparkline) RenderWithWidth(width int) string {
	if width <= 0 || width > s.width {
		width = s.width
	}
	if s.count == 0 {
		return strings.Repeat(string(SparklineChars[0]), width)
	}
	if s.max <= 0 {
		s.recalculateMax()
	}

	filled := min(s.count, s.width)
	// Oldest retained sample: the ring starts at zero until the first
	// wrap, then head points at it.
	start := 0
	if s.count >= s.width {
		start = s.head
	}
	// A narrow window shows only the newest samples.
	if filled > width {
		start = (start + filled - width) % s.width
		filled = width
	}

	var sb strings.Builder
	sb.Grow(width * 3) // block characters are 3 bytes in UTF-8

	for i := 0; i < width; i++ {
		if i >= filled {
			sb.WriteRune(' ')
			continue
		}
		sb.WriteRune(s.charFor(s.samples[(start+i)%s.width]))
	}
	return sb.String()
}

// charFor maps a sample onto one of the eight block characters.
func (s *Sparkline) charFor(value float64) rune {
	if s.max <= 0 {
		return SparklineChars[0]
	}
	idx := int(value / s.max * float64(len(SparklineChars)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(SparklineChars) {
		idx = len(SparklineChars) - 1
	}
	return SparklineChars[idx]
}

// Clear resets the ring to empty.
func (s *Sparkline) Clear() {
	for i := range s.samples {
		s.samples[i] = 0
	}
	s.head = 0
	s.count = 0
	s.max = 0
}

// Count returns the number of samples added since creation or Clear.
func (s *Sparkline) Count() int {
	return s.count
}

// Max returns the scaling maximum.
func (s *Sparkline) Max() float64 {
	return s.max
}
