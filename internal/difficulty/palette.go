package difficulty

// Unknown is the label reported for problems missing from the index.
const Unknown = "unknown"

// DefaultColor is used for Unknown and for labels outside the palette.
const DefaultColor = "#bfbfbf"

// Tier is one difficulty band of the judge.
type Tier struct {
	Label string
	Level int
	Color string
}

// Palette maps labels to tiers. Levels are ordinal, easiest first.
type Palette struct {
	tiers   []Tier
	byLabel map[string]Tier
}

// Tiers is the judge's seven-tier scale.
var Tiers = []Tier{
	{Label: "入门", Level: 0, Color: "#fe4c61"},
	{Label: "普及−", Level: 1, Color: "#f39c11"},
	{Label: "普及/提高−", Level: 2, Color: "#ffc116"},
	{Label: "普及+/提高", Level: 3, Color: "#53c41a"},
	{Label: "提高+/省选", Level: 4, Color: "#3498db"},
	{Label: "省选/NOI−", Level: 5, Color: "#9c3dcf"},
	{Label: "NOI/NOI+/CTSC", Level: 6, Color: "#0e1d69"},
}

var defaultPalette = NewPalette(Tiers)

// Default returns the judge palette.
func Default() *Palette { return defaultPalette }

func NewPalette(tiers []Tier) *Palette {
	p := &Palette{tiers: append([]Tier(nil), tiers...), byLabel: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		p.byLabel[t.Label] = t
	}
	return p
}

// Color returns the label's color, DefaultColor when unknown.
func (p *Palette) Color(label string) string {
	if t, ok := p.byLabel[label]; ok {
		return t.Color
	}
	return DefaultColor
}

// Level returns the label's ordinal level; ok is false for unknown labels.
func (p *Palette) Level(label string) (int, bool) {
	t, ok := p.byLabel[label]
	return t.Level, ok
}

// Name returns the label for a level.
func (p *Palette) Name(level int) (string, bool) {
	for _, t := range p.tiers {
		if t.Level == level {
			return t.Label, true
		}
	}
	return "", false
}

// MaxLevel is the highest level in the palette.
func (p *Palette) MaxLevel() int {
	hi := 0
	for _, t := range p.tiers {
		hi = max(hi, t.Level)
	}
	return hi
}

func (p *Palette) Tiers() []Tier { return append([]Tier(nil), p.tiers...) }
