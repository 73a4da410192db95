// Package imaging turns fetched source images into JPEG 2000 derivatives.
package imaging

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a width/height pair used for precincts and code-blocks.
type Size struct {
	W, H int
}

func (s Size) String() string {
	return fmt.Sprintf("{%d,%d}", s.W, s.H)
}

// Profile is a JPEG 2000 encoding profile. The same profile always yields the same
// compressor invocation, so derivatives are reproducible across workers.
type Profile struct {
	Rate          float64
	QualityLayers int
	Levels        int
	Precincts     []Size
	Order         string
	PLTMarkers    bool
	TileParts     string
	CodeBlock     Size
	SOPMarkers    bool
}

// DefaultProfile is the tiled, precinct-structured RPCL profile used for every derivative.
func DefaultProfile() Profile {
	return Profile{
		Rate:          0.5,
		QualityLayers: 1,
		Levels:        7,
		Precincts: []Size{
			{256, 256}, {256, 256}, {256, 256},
			{128, 128}, {128, 128},
			{64, 64}, {64, 64},
			{32, 32},
			{16, 16},
		},
		Order:      "RPCL",
		PLTMarkers: true,
		TileParts:  "R",
		CodeBlock:  Size{64, 64},
		SOPMarkers: true,
	}
}

// Args returns the kdu_compress arguments encoding input into output.
func (p Profile) Args(input, output string) []string {
	precincts := make([]string, len(p.Precincts))
	for i, s := range p.Precincts {
		precincts[i] = s.String()
	}
	return []string{
		"-i", input,
		"-o", output,
		"-rate", strconv.FormatFloat(p.Rate, 'f', -1, 64),
		"Clayers=" + strconv.Itoa(p.QualityLayers),
		"Clevels=" + strconv.Itoa(p.Levels),
		"Cprecincts=" + strings.Join(precincts, ","),
		"Corder=" + p.Order,
		"ORGgen_plt=" + yesNo(p.PLTMarkers),
		"ORGtparts=" + p.TileParts,
		"Cblk=" + p.CodeBlock.String(),
		"Cuse_sop=" + yesNo(p.SOPMarkers),
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
