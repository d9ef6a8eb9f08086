package render

// Theme holds colors for CFG rendering.
type Theme struct {
	Background string
	NodeFill   string
	NodeBorder string
	TextColor  string

	// Edge colors by kind.
	EdgeTaken       string // conditional jump taken
	EdgeFallthrough string // conditional jump not taken
	EdgePlain       string // unconditional jump or straight fallthrough

	// Node accents.
	EntryBorder  string // ENTRY outline
	SentinelFill string // ENTRY and EXIT
	TermFill     string // blocks flowing into EXIT
	MutedText    string // sentinel labels
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	NodeFill:   "white",
	NodeBorder: "#1A1A1A",
	TextColor:  "#1A1A1A",

	EdgeTaken:       "#0B3D91", // NASA blue
	EdgeFallthrough: "#FC3D21", // NASA red
	EdgePlain:       "#424242", // dark gray

	EntryBorder:  "#0B3D91",
	SentinelFill: "#ECEFF1", // blue-gray 50
	TermFill:     "#E0F2F1", // teal 50
	MutedText:    "#9E9E9E",
}
