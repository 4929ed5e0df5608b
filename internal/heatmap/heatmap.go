// Package heatmap renders the participant×option vote matrix as a PNG.
// The imager is pure: it receives fully materialized inputs and keeps no
// process-wide mutable state, so callers may invoke it concurrently.
package heatmap

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"

	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/models"
	"github.com/huxuxuya/TgPollBrainFucker-sub000/internal/render"
)

const (
	cellHeight  = 28
	minCellW    = 64
	maxCellW    = 128
	nameColW    = 184
	headerH     = 52
	pad         = 6
	fontSize    = 13
	headerLines = 3
)

var (
	colBackground = color.RGBA{255, 255, 255, 255}
	colGrid       = color.RGBA{210, 210, 210, 255}
	colText       = color.RGBA{33, 33, 33, 255}
	colFill       = color.RGBA{46, 160, 67, 255}
	colExcludedBG = color.RGBA{250, 215, 215, 255}
	colExcluded   = color.RGBA{160, 30, 30, 255}
	colLeader     = color.RGBA{230, 140, 0, 255}
)

// Fonts with Cyrillic coverage are probed first; the bundled Go Regular
// face covers Cyrillic and is the guaranteed fallback.
var fontCandidates = []string{
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/TTF/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/liberation/LiberationSans-Regular.ttf",
}

var (
	fontOnce   sync.Once
	parsedFont *sfnt.Font
)

func loadFont() *sfnt.Font {
	fontOnce.Do(func() {
		for _, path := range fontCandidates {
			raw, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if f, err := opentype.Parse(raw); err == nil {
				parsedFont = f
				return
			}
		}
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			panic("heatmap: bundled font does not parse: " + err.Error())
		}
		parsedFont = f
	})
	return parsedFont
}

type row struct {
	user     models.User
	excluded bool
}

// Render draws the matrix for the poll bundle and chat participants.
// It returns nil bytes when there are no participants and no responders.
func Render(b *models.Bundle, participants []models.Participant) ([]byte, error) {
	rows := buildRows(b, participants)
	if len(rows) == 0 {
		return nil, nil
	}
	cols := render.Options(b)

	// face objects carry internal buffers, one per call keeps this pure
	face, err := opentype.NewFace(loadFont(), &opentype.FaceOptions{
		Size: fontSize, DPI: 72, Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, err
	}
	defer face.Close()

	cellW := cellWidth(face, cols)
	width := nameColW + cellW*len(cols)
	if width < nameColW+minCellW {
		width = nameColW + minCellW
	}
	height := headerH + cellHeight*len(rows)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{colBackground}, image.Point{}, draw.Src)

	voted := make(map[int64]map[string]bool, len(rows))
	for _, r := range b.Responses {
		if voted[r.UserID] == nil {
			voted[r.UserID] = make(map[string]bool)
		}
		voted[r.UserID][r.Option] = true
	}

	maxCount := 0
	for _, c := range cols {
		if c.Count() > maxCount {
			maxCount = c.Count()
		}
	}
	totalVotes := len(b.Responses)

	// Column headers, wrapped to the cell width.
	for ci, c := range cols {
		x := nameColW + ci*cellW
		lines := wrap(face, c.Text, cellW-2*pad)
		for li, line := range lines {
			drawText(img, face, x+pad, pad+(li+1)*(fontSize+2), line, colText)
		}
	}

	// Rows: excluded participants are drawn on a red row. This styling is
	// computed in memory only, nothing is written back.
	for ri, rw := range rows {
		y := headerH + ri*cellHeight

		if rw.excluded {
			draw.Draw(img, image.Rect(0, y, width, y+cellHeight), &image.Uniform{colExcludedBG}, image.Point{}, draw.Src)
		}

		nameCol := colText
		if rw.excluded {
			nameCol = colExcluded
		}
		drawText(img, face, pad, y+cellHeight-9, truncate(face, rw.user.DisplayName(), nameColW-2*pad), nameCol)

		for ci, c := range cols {
			x := nameColW + ci*cellW
			if voted[rw.user.ID][c.Text] {
				share := 0.0
				if totalVotes > 0 {
					share = float64(c.Count()) / float64(totalVotes)
				}
				draw.Draw(img, image.Rect(x+1, y+1, x+cellW-1, y+cellHeight-1),
					&image.Uniform{fillColor(share)}, image.Point{}, draw.Src)
			}
		}
	}

	// Grid.
	for ri := 0; ri <= len(rows); ri++ {
		y := headerH + ri*cellHeight
		hline(img, 0, width, y, colGrid)
	}
	for ci := 0; ci <= len(cols); ci++ {
		x := nameColW + ci*cellW
		vline(img, x, headerH, height, colGrid)
	}
	vline(img, 0, 0, height, colGrid)
	hline(img, 0, width, 0, colGrid)
	hline(img, 0, width, height-1, colGrid)
	vline(img, width-1, 0, height, colGrid)

	// Leader columns: outline every column whose count equals the maximum.
	if maxCount > 0 {
		for ci, c := range cols {
			if c.Count() != maxCount {
				continue
			}
			x := nameColW + ci*cellW
			outline(img, image.Rect(x, headerH, x+cellW, height-1), colLeader)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildRows lists every chat participant plus dummy rows for responders
// the participant table does not know yet.
func buildRows(b *models.Bundle, participants []models.Participant) []row {
	var rows []row
	known := make(map[int64]bool, len(participants))
	for _, p := range participants {
		known[p.UserID] = true
		rows = append(rows, row{
			user:     models.User{ID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, Username: p.Username},
			excluded: p.Excluded || b.Exclusions[p.UserID],
		})
	}
	for _, id := range b.Responders() {
		if known[id] {
			continue
		}
		rows = append(rows, row{user: b.Voters[id], excluded: b.Exclusions[id]})
	}
	return rows
}

func cellWidth(face font.Face, cols []render.Option) int {
	w := minCellW
	for _, c := range cols {
		for _, word := range splitWords(c.Text) {
			need := measure(face, word) + 2*pad
			if need > w {
				w = need
			}
		}
	}
	if w > maxCellW {
		w = maxCellW
	}
	return w
}

func fillColor(share float64) color.RGBA {
	// Low-share cells stay pale, hot columns read saturated.
	t := 0.35 + 0.65*share
	blend := func(a, b uint8) uint8 {
		return uint8(float64(a)*(1-t) + float64(b)*t)
	}
	return color.RGBA{
		R: blend(255, colFill.R),
		G: blend(255, colFill.G),
		B: blend(255, colFill.B),
		A: 255,
	}
}

func measure(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

func drawText(img *image.RGBA, face font.Face, x, y int, s string, col color.RGBA) {
	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{col},
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func truncate(face font.Face, s string, maxW int) string {
	if measure(face, s) <= maxW {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		if measure(face, string(runes)+"…") <= maxW {
			return string(runes) + "…"
		}
	}
	return "…"
}

func wrap(face font.Face, s string, maxW int) []string {
	words := splitWords(s)
	var lines []string
	cur := ""
	for _, w := range words {
		candidate := w
		if cur != "" {
			candidate = cur + " " + w
		}
		if measure(face, candidate) <= maxW || cur == "" {
			cur = candidate
			continue
		}
		lines = append(lines, cur)
		cur = w
		if len(lines) == headerLines-1 {
			break
		}
	}
	if cur != "" {
		lines = append(lines, truncate(face, cur, maxW))
	}
	if len(lines) > headerLines {
		lines = lines[:headerLines]
	}
	return lines
}

func splitWords(s string) []string {
	var words []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			if cur != "" {
				words = append(words, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		words = append(words, cur)
	}
	return words
}

func hline(img *image.RGBA, x0, x1, y int, col color.RGBA) {
	if y >= img.Bounds().Dy() {
		y = img.Bounds().Dy() - 1
	}
	for x := x0; x < x1; x++ {
		img.SetRGBA(x, y, col)
	}
}

func vline(img *image.RGBA, x, y0, y1 int, col color.RGBA) {
	if x >= img.Bounds().Dx() {
		x = img.Bounds().Dx() - 1
	}
	for y := y0; y < y1; y++ {
		img.SetRGBA(x, y, col)
	}
}

func outline(img *image.RGBA, r image.Rectangle, col color.RGBA) {
	for i := 0; i < 2; i++ {
		hline(img, r.Min.X, r.Max.X, r.Min.Y+i, col)
		hline(img, r.Min.X, r.Max.X, r.Max.Y-1-i, col)
		vline(img, r.Min.X+i, r.Min.Y, r.Max.Y, col)
		vline(img, r.Max.X-1-i, r.Min.Y, r.Max.Y, col)
	}
}
