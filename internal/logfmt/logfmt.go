// Package logfmt turns console output carrying ANSI SGR escapes or loguru
// color markup into styled spans.
package logfmt

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/lucasb-eyer/go-colorful"
)

// token matches, in order: an SGR escape, any other CSI escape, or a
// loguru-style tag such as <red>, </red>, </> or <fg #3399ff>.
var token = regexp.MustCompile(`\x1b\[([0-9;]*)m|\x1b\[[0-9;?]*[A-Za-z]|<(/?)([A-Za-z#][\w #-]*)?>`)

// Foreground colors for SGR 30-37 and 90-97.
var sgrColors = map[int]string{
	30: "#000000", 31: "#f44336", 32: "#4caf50", 33: "#ffeb3b",
	34: "#2196f3", 35: "#e91e63", 36: "#00bcd4", 37: "#ffffff",
	90: "#757575", 91: "#ff5252", 92: "#8bc34a", 93: "#ffff00",
	94: "#03a9f4", 95: "#e91e63", 96: "#18ffff", 97: "#e0e0e0",
}

// Loguru color tag names.
var tagColors = map[string]string{
	"black":         "#000000",
	"red":           "#f44336",
	"green":         "#4caf50",
	"yellow":        "#ffeb3b",
	"blue":          "#2196f3",
	"magenta":       "#e91e63",
	"cyan":          "#00bcd4",
	"white":         "#ffffff",
	"light-black":   "#757575",
	"light-red":     "#ff5252",
	"light-green":   "#8bc34a",
	"light-yellow":  "#ffff00",
	"light-blue":    "#03a9f4",
	"light-magenta": "#e91e63",
	"light-cyan":    "#18ffff",
	"light-white":   "#e0e0e0",
}

type style struct {
	color     string
	bold      bool
	italic    bool
	underline bool
}

// Formatter parses log lines. The zero value is ready to use.
type Formatter struct{}

// New returns a Formatter.
func New() *Formatter {
	return &Formatter{}
}

// Format splits line into styled spans. Escapes and recognised tags are
// removed; unrecognised tags stay in the text.
func (f *Formatter) Format(line string) ([]models.Span, error) {
	var spans []models.Span
	stack := []style{{}}
	pos := 0

	emit := func(text string) {
		if text == "" {
			return
		}
		st := stack[len(stack)-1]
		if n := len(spans); n > 0 && sameStyle(spans[n-1], st) {
			spans[n-1].Text += text
			return
		}
		spans = append(spans, models.Span{
			Text:      text,
			Color:     st.color,
			Bold:      st.bold,
			Italic:    st.italic,
			Underline: st.underline,
		})
	}

	for _, m := range token.FindAllStringSubmatchIndex(line, -1) {
		start, end := m[0], m[1]
		emit(line[pos:start])
		pos = end

		whole := line[start:end]
		switch {
		case strings.HasPrefix(whole, "\x1b[") && strings.HasSuffix(whole, "m") && m[2] >= 0:
			params := line[m[2]:m[3]]
			if params == "" || params == "0" {
				stack = []style{{}}
				continue
			}
			stack[len(stack)-1] = applySGR(stack[len(stack)-1], params)

		case strings.HasPrefix(whole, "\x1b["):
			// Cursor movement, erase line and friends carry no style.

		default:
			closing := line[m[4]:m[5]] == "/"
			name := ""
			if m[6] >= 0 {
				name = strings.ToLower(strings.TrimSpace(line[m[6]:m[7]]))
			}
			if closing {
				if name != "" && !knownTag(name) {
					emit(whole)
					continue
				}
				if len(stack) > 1 {
					stack = stack[:len(stack)-1]
				}
				continue
			}
			next, ok := applyTag(stack[len(stack)-1], name)
			if !ok {
				emit(whole)
				continue
			}
			stack = append(stack, next)
		}
	}
	emit(line[pos:])
	return spans, nil
}

// Strip returns line without escapes or recognised tags.
func Strip(line string) string {
	spans, _ := New().Format(line)
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

func sameStyle(sp models.Span, st style) bool {
	return sp.Color == st.color && sp.Bold == st.bold && sp.Italic == st.italic && sp.Underline == st.underline
}

func applySGR(st style, params string) style {
	codes := strings.Split(params, ";")
	for i := 0; i < len(codes); i++ {
		n, err := strconv.Atoi(codes[i])
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			st = style{}
		case n == 1:
			st.bold = true
		case n == 3:
			st.italic = true
		case n == 4:
			st.underline = true
		case n == 22:
			st.bold = false
		case n == 23:
			st.italic = false
		case n == 24:
			st.underline = false
		case n == 39:
			st.color = ""
		case n == 38:
			// 38;2;r;g;b or 38;5;n
			if i+1 < len(codes) && codes[i+1] == "2" && i+4 < len(codes) {
				if c, ok := rgb(codes[i+2], codes[i+3], codes[i+4]); ok {
					st.color = c
				}
				i += 4
			} else if i+1 < len(codes) && codes[i+1] == "5" && i+2 < len(codes) {
				if idx, err := strconv.Atoi(codes[i+2]); err == nil {
					st.color = xterm256(idx)
				}
				i += 2
			}
		case n == 48:
			// Background colors are not rendered; skip their arguments.
			if i+1 < len(codes) && codes[i+1] == "2" {
				i += 4
			} else if i+1 < len(codes) && codes[i+1] == "5" {
				i += 2
			}
		default:
			if c, ok := sgrColors[n]; ok {
				st.color = c
			}
		}
	}
	return st
}

func applyTag(st style, name string) (style, bool) {
	switch name {
	case "b", "bold":
		st.bold = true
		return st, true
	case "i", "italic":
		st.italic = true
		return st, true
	case "u", "underline":
		st.underline = true
		return st, true
	}
	if c, ok := tagColors[name]; ok {
		st.color = c
		return st, true
	}
	if hex, ok := strings.CutPrefix(name, "fg "); ok {
		name = strings.TrimSpace(hex)
	}
	if strings.HasPrefix(name, "#") {
		if c, err := colorful.Hex(name); err == nil {
			st.color = c.Hex()
			return st, true
		}
	}
	return st, false
}

func knownTag(name string) bool {
	_, ok := applyTag(style{}, name)
	return ok
}

func rgb(r, g, b string) (string, bool) {
	var v [3]uint8
	for i, s := range []string{r, g, b} {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 || n > 255 {
			return "", false
		}
		v[i] = uint8(n)
	}
	return colorful.Color{R: float64(v[0]) / 255, G: float64(v[1]) / 255, B: float64(v[2]) / 255}.Hex(), true
}

// xterm256 maps a 256-color palette index to a hex color.
func xterm256(idx int) string {
	switch {
	case idx < 0 || idx > 255:
		return ""
	case idx < 8:
		return sgrColors[30+idx]
	case idx < 16:
		return sgrColors[90+idx-8]
	case idx < 232:
		idx -= 16
		levels := [6]float64{0, 95, 135, 175, 215, 255}
		return colorful.Color{
			R: levels[idx/36] / 255,
			G: levels[(idx/6)%6] / 255,
			B: levels[idx%6] / 255,
		}.Hex()
	default:
		gray := float64(8+(idx-232)*10) / 255
		return colorful.Color{R: gray, G: gray, B: gray}.Hex()
	}
}
