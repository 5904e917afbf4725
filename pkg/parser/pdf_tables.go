package parser

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// Ruling lines whose positions differ by less than this are one grid line.
	lineTolerance = 2.0
	// Filled rectangles thinner than this are drawn rules, not boxes.
	thinRect = 2.0
	// Maximum skew for a segment to still count as horizontal or vertical.
	axisTolerance = 1.0
)

type point struct{ X, Y float64 }

type segment struct{ A, B point }

// glyph is one positioned character from a page's text layer.
type glyph struct {
	X, Y, W, Size float64
	S             string
}

// ExtractTables finds the ruled table on each page of a PDF and returns its
// cell text, one Table per page that has one.
//
// Cells are located from the drawn ruling lines. Text in a merged cell is
// attributed to the cell's top-left position, leaving the rest of the span
// empty.
func ExtractTables(data []byte) (tables []Table, err error) {
	defer func() {
		if r := recover(); r != nil {
			tables, err = nil, fmt.Errorf("failed to read pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		segs := pageSegments(page.V.Key("Contents"))
		var glyphs []glyph
		for _, t := range page.Content().Text {
			glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
		}

		if t := buildTable(segs, glyphs); len(t) > 0 {
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// pageSegments runs the page's content streams through a path collector.
func pageSegments(contents pdf.Value) []segment {
	c := newPathCollector()
	handler := func(stk *pdf.Stack, op string) {
		n := stk.Len()
		args := make([]pdf.Value, n)
		for i := n - 1; i >= 0; i-- {
			args[i] = stk.Pop()
		}
		nums := make([]float64, 0, n)
		for _, a := range args {
			if k := a.Kind(); k == pdf.Integer || k == pdf.Real {
				nums = append(nums, a.Float64())
			}
		}
		c.apply(op, nums)
	}

	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), handler)
		}
	} else {
		pdf.Interpret(contents, handler)
	}
	return c.segments
}

// matrix is a PDF affine transform [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns the transform that applies m first, then n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) point {
	return point{X: m[0]*x + m[2]*y + m[4], Y: m[1]*x + m[3]*y + m[5]}
}

// pathCollector tracks the graphics state needed to recover stroked and
// filled straight segments in device space. Curves only move the pen.
type pathCollector struct {
	ctm      matrix
	saved    []matrix
	pending  []segment
	current  point
	start    point
	open     bool
	segments []segment
}

func newPathCollector() *pathCollector {
	return &pathCollector{ctm: identity}
}

func (c *pathCollector) apply(op string, args []float64) {
	switch op {
	case "q":
		c.saved = append(c.saved, c.ctm)
	case "Q":
		if n := len(c.saved); n > 0 {
			c.ctm = c.saved[n-1]
			c.saved = c.saved[:n-1]
		}
	case "cm":
		if len(args) == 6 {
			c.ctm = matrix{args[0], args[1], args[2], args[3], args[4], args[5]}.mul(c.ctm)
		}
	case "m":
		if len(args) == 2 {
			p := c.ctm.apply(args[0], args[1])
			c.current, c.start, c.open = p, p, true
		}
	case "l":
		if len(args) == 2 && c.open {
			p := c.ctm.apply(args[0], args[1])
			c.pending = append(c.pending, segment{c.current, p})
			c.current = p
		}
	case "c":
		if len(args) == 6 && c.open {
			c.current = c.ctm.apply(args[4], args[5])
		}
	case "v", "y":
		if len(args) == 4 && c.open {
			c.current = c.ctm.apply(args[2], args[3])
		}
	case "re":
		if len(args) == 4 {
			c.rect(args[0], args[1], args[2], args[3])
		}
	case "h":
		c.closePath()
	case "s", "b", "b*":
		c.closePath()
		c.commit()
	case "S", "f", "F", "f*", "B", "B*":
		c.commit()
	case "n":
		c.pending = nil
		c.open = false
	}
}

func (c *pathCollector) closePath() {
	if c.open && c.current != c.start {
		c.pending = append(c.pending, segment{c.current, c.start})
		c.current = c.start
	}
}

func (c *pathCollector) commit() {
	c.segments = append(c.segments, c.pending...)
	c.pending = nil
	c.open = false
}

// rect adds a rectangle. Thin rectangles are how most generators draw table
// rules, so they become a single line along their long side.
func (c *pathCollector) rect(x, y, w, h float64) {
	corners := []point{
		c.ctm.apply(x, y),
		c.ctm.apply(x+w, y),
		c.ctm.apply(x+w, y+h),
		c.ctm.apply(x, y+h),
	}
	minX, maxX := corners[0].X, corners[0].X
	minY, maxY := corners[0].Y, corners[0].Y
	for _, p := range corners[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}

	switch {
	case maxX-minX < thinRect && maxY-minY >= thinRect:
		mid := (minX + maxX) / 2
		c.pending = append(c.pending, segment{point{mid, minY}, point{mid, maxY}})
	case maxY-minY < thinRect && maxX-minX >= thinRect:
		mid := (minY + maxY) / 2
		c.pending = append(c.pending, segment{point{minX, mid}, point{maxX, mid}})
	case maxX-minX < thinRect:
		// a dot; nothing to rule
	default:
		c.pending = append(c.pending,
			segment{corners[0], corners[1]},
			segment{corners[1], corners[2]},
			segment{corners[2], corners[3]},
			segment{corners[3], corners[0]},
		)
	}
	c.current, c.start, c.open = corners[0], corners[0], true
}

// rule is an axis-aligned segment: pos is its fixed coordinate and lo..hi
// the span along the other axis.
type rule struct {
	pos, lo, hi float64
}

func (r rule) covers(pos, at float64) bool {
	return math.Abs(r.pos-pos) <= lineTolerance && at >= r.lo-lineTolerance && at <= r.hi+lineTolerance
}

type grid struct {
	xs     []float64 // column boundaries, left to right
	ys     []float64 // row boundaries, top to bottom
	hrules []rule
	vrules []rule
}

// buildTable lays the glyphs out on the grid formed by the segments.
// Fewer than two distinct lines in either direction means there is no table.
func buildTable(segs []segment, glyphs []glyph) Table {
	g := grid{}
	for _, s := range segs {
		dx, dy := math.Abs(s.A.X-s.B.X), math.Abs(s.A.Y-s.B.Y)
		switch {
		case dy <= axisTolerance && dx > axisTolerance:
			g.hrules = append(g.hrules, rule{(s.A.Y + s.B.Y) / 2, math.Min(s.A.X, s.B.X), math.Max(s.A.X, s.B.X)})
		case dx <= axisTolerance && dy > axisTolerance:
			g.vrules = append(g.vrules, rule{(s.A.X + s.B.X) / 2, math.Min(s.A.Y, s.B.Y), math.Max(s.A.Y, s.B.Y)})
		}
	}

	g.xs = clusterPositions(g.vrules)
	g.ys = clusterPositions(g.hrules)
	if len(g.xs) < 2 || len(g.ys) < 2 {
		return nil
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(g.ys)))

	rows, cols := len(g.ys)-1, len(g.xs)-1
	cells := make([][][]glyph, rows)
	for r := range cells {
		cells[r] = make([][]glyph, cols)
	}

	for _, gl := range glyphs {
		r, c, ok := g.locate(gl)
		if !ok {
			continue
		}
		r, c = g.spanOrigin(r, c)
		cells[r][c] = append(cells[r][c], gl)
	}

	table := make(Table, rows)
	for r := range cells {
		table[r] = make([]string, cols)
		for c := range cells[r] {
			table[r][c] = cellText(cells[r][c])
		}
	}
	return table
}

// clusterPositions merges rule positions closer than lineTolerance and
// returns the cluster means in ascending order.
func clusterPositions(rules []rule) []float64 {
	if len(rules) == 0 {
		return nil
	}
	pos := make([]float64, len(rules))
	for i, r := range rules {
		pos[i] = r.pos
	}
	sort.Float64s(pos)

	var out []float64
	sum, n := pos[0], 1.0
	for _, p := range pos[1:] {
		if p-sum/n <= lineTolerance {
			sum += p
			n++
			continue
		}
		out = append(out, sum/n)
		sum, n = p, 1
	}
	return append(out, sum/n)
}

func (g grid) locate(gl glyph) (int, int, bool) {
	cx := gl.X + gl.W/2
	cy := gl.Y + glyphSize(gl)*0.3

	col := -1
	for c := 0; c < len(g.xs)-1; c++ {
		if cx >= g.xs[c] && cx < g.xs[c+1] {
			col = c
			break
		}
	}
	row := -1
	for r := 0; r < len(g.ys)-1; r++ {
		if cy < g.ys[r] && cy >= g.ys[r+1] {
			row = r
			break
		}
	}
	return row, col, row >= 0 && col >= 0
}

// spanOrigin walks left, then up, across cell boundaries that have no rule
// drawn, landing on the top-left cell of a merged span.
func (g grid) spanOrigin(r, c int) (int, int) {
	for c > 0 && !g.hasVertical(c, (g.ys[r]+g.ys[r+1])/2) {
		c--
	}
	for r > 0 && !g.hasHorizontal(r, (g.xs[c]+g.xs[c+1])/2) {
		r--
	}
	return r, c
}

func (g grid) hasVertical(c int, y float64) bool {
	for _, v := range g.vrules {
		if v.covers(g.xs[c], y) {
			return true
		}
	}
	return false
}

func (g grid) hasHorizontal(r int, x float64) bool {
	for _, h := range g.hrules {
		if h.covers(g.ys[r], x) {
			return true
		}
	}
	return false
}

func glyphSize(g glyph) float64 {
	if s := math.Abs(g.Size); s > 0 {
		return s
	}
	return 1
}

// cellText orders a cell's glyphs into lines, top to bottom. Text set
// bottom-to-top (rotated day labels) is read column by column instead.
func cellText(gs []glyph) string {
	if len(gs) == 0 {
		return ""
	}

	lines := groupLines(gs)
	if cols := groupColumns(gs); len(lines) >= 3 && len(gs) <= 2*len(lines) && len(cols) < len(lines) && allStacked(cols) {
		out := make([]string, len(cols))
		for i, col := range cols {
			out[i] = joinRun(col, func(g glyph) float64 { return g.Y })
		}
		return strings.Join(out, "\n")
	}

	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = joinRun(line, func(g glyph) float64 { return g.X })
	}
	return strings.Join(out, "\n")
}

// groupLines buckets glyphs by baseline, top line first, each sorted by X.
func groupLines(gs []glyph) [][]glyph {
	sorted := append([]glyph(nil), gs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var lines [][]glyph
	var lineY float64
	for _, g := range sorted {
		if len(lines) > 0 && math.Abs(g.Y-lineY) <= glyphSize(g)*0.5 {
			lines[len(lines)-1] = append(lines[len(lines)-1], g)
			continue
		}
		lines = append(lines, []glyph{g})
		lineY = g.Y
	}
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
	}
	return lines
}

// groupColumns buckets glyphs by X, left column first, each sorted bottom up.
func groupColumns(gs []glyph) [][]glyph {
	sorted := append([]glyph(nil), gs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var cols [][]glyph
	var colX float64
	for _, g := range sorted {
		if len(cols) > 0 && math.Abs(g.X-colX) <= glyphSize(g)*0.5 {
			cols[len(cols)-1] = append(cols[len(cols)-1], g)
			continue
		}
		cols = append(cols, []glyph{g})
		colX = g.X
	}
	for _, col := range cols {
		sort.SliceStable(col, func(i, j int) bool { return col[i].Y < col[j].Y })
	}
	return cols
}

func allStacked(cols [][]glyph) bool {
	for _, col := range cols {
		if len(col) < 2 {
			return false
		}
	}
	return true
}

// joinRun concatenates glyphs along one axis, inserting a space where the gap
// to the previous glyph is wider than a quarter of the font size.
func joinRun(gs []glyph, at func(glyph) float64) string {
	var b strings.Builder
	for i, g := range gs {
		if i > 0 {
			prev := gs[i-1]
			gap := at(g) - (at(prev) + prev.W)
			if gap > glyphSize(g)*0.25 && prev.S != " " && g.S != " " {
				b.WriteByte(' ')
			}
		}
		b.WriteString(g.S)
	}
	return b.String()
}
