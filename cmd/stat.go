package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	BLACK = 30 + iota
	RED
	GREEN
	YELLOW
	BLUE
	MAGENTA
	CYAN
	WHITE
	DEFAULT = "00"
)

const (
	RESET_SEQ      = "\033[0m"
	COLOR_SEQ      = "\033[1;" // %dm
	COLOR_DARK_SEQ = "\033[0;" // %dm
	UNDERLINE_SEQ  = "\033[4m"
)

const metricPrefix = "govfs_"

type statsPrinter struct {
	colorful bool
	out      io.Writer
}

func (w *statsPrinter) colorize(msg string, color int, dark bool, underline bool) string {
	if !w.colorful || msg == "" || msg == " " {
		return msg
	}
	var cseq, useq string
	if dark {
		cseq = COLOR_DARK_SEQ
	} else {
		cseq = COLOR_SEQ
	}
	if underline {
		useq = UNDERLINE_SEQ
	}
	return fmt.Sprintf("%s%s%dm%s%s", useq, cseq, color, msg, RESET_SEQ)
}

type section struct {
	name   string
	prefix string
}

var sections = []section{
	{"process", "govfs_cpu_usage"},
	{"process", "govfs_memory"},
	{"process", "govfs_uptime"},
	{"resources", "govfs_open_resources"},
	{"router", "govfs_router_ops_durations_histogram_seconds_"},
	{"bridge", "govfs_bridge_"},
	{"object storage", "govfs_object_"},
	{"go", "govfs_go_memstats_alloc_bytes"},
	{"go", "govfs_go_memstats_sys_bytes"},
	{"go", "govfs_go_goroutines"},
}

func padding(name string, width int, char byte) string {
	pad := width - len(name)
	if pad < 0 {
		pad = 0
		name = name[0:width]
	}
	prefix := (pad + 1) / 2
	buf := make([]byte, width)
	for i := 0; i < prefix; i++ {
		buf[i] = char
	}
	copy(buf[prefix:], name)
	for i := prefix + len(name); i < width; i++ {
		buf[i] = char
	}
	return string(buf)
}

func (w *statsPrinter) formatU64(v float64, isByte bool) string {
	if v <= 0.0 {
		return w.colorize("       0 ", BLACK, false, false)
	}
	var vi uint64
	var unit string
	var color int
	switch vi = uint64(v); {
	case vi < 10000:
		if isByte {
			unit = "B"
		} else {
			unit = " "
		}
		color = RED
	case vi>>10 < 10000:
		vi, unit, color = vi>>10, "K", YELLOW
	case vi>>20 < 10000:
		vi, unit, color = vi>>20, "M", GREEN
	case vi>>30 < 10000:
		vi, unit, color = vi>>30, "G", BLUE
	case vi>>40 < 10000:
		vi, unit, color = vi>>40, "T", MAGENTA
	default:
		vi, unit, color = vi>>50, "P", CYAN
	}
	return w.colorize(fmt.Sprintf("%8d", vi), color, false, false) +
		w.colorize(unit, BLACK, false, false)
}

func (w *statsPrinter) formatTime(v float64) string {
	var ret string
	var color int
	switch {
	case v <= 0.0:
		ret, color = "       0 ", BLACK
	case v < 10.0:
		ret, color = fmt.Sprintf("%8.2f ", v), GREEN
	case v < 100.0:
		ret, color = fmt.Sprintf("%8.1f ", v), YELLOW
	case v < 10000.0:
		ret, color = fmt.Sprintf("%8.f ", v), RED
	default:
		ret, color = fmt.Sprintf("%8.e", v), MAGENTA
	}
	return w.colorize(ret, color, false, false)
}

func parseStats(d []byte) map[string]float64 {
	stats := make(map[string]float64)
	for _, line := range strings.Split(string(d), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		stats[fields[0]] = v
	}
	return stats
}

// print renders the metrics dump grouped by section. Histograms show the
// call count and the mean latency in ms.
func (w *statsPrinter) print(stats map[string]float64) {
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	last := ""
	for _, s := range sections {
		for _, name := range names {
			if !strings.HasPrefix(name, s.prefix) {
				continue
			}
			if s.name != last {
				fmt.Fprintln(w.out, w.colorize(padding(s.name, 48, '-'), BLUE, false, false))
				last = s.name
			}
			w.printItem(name, stats)
		}
	}
}

func (w *statsPrinter) printItem(name string, stats map[string]float64) {
	nick := strings.TrimPrefix(name, metricPrefix)
	switch {
	case strings.HasSuffix(name, "_sum"):
		return
	case strings.HasSuffix(name, "_total"):
		base := strings.TrimSuffix(name, "_total")
		count := stats[name]
		var avg float64
		if count > 0 {
			avg = stats[base+"_sum"] * 1000 / count
		}
		fmt.Fprintf(w.out, "%-40s %s %s\n", strings.TrimPrefix(base, metricPrefix),
			w.formatU64(count, false), w.formatTime(avg))
	case strings.HasSuffix(name, "_bytes") || name == metricPrefix+"memory":
		fmt.Fprintf(w.out, "%-40s %s\n", nick, w.formatU64(stats[name], true))
	default:
		fmt.Fprintf(w.out, "%-40s %s\n", nick, w.formatU64(stats[name], false))
	}
}

func ShowStats(out io.Writer, dump []byte) {
	w := &statsPrinter{
		colorful: SupportANSIColor(os.Stdout.Fd()),
		out:      out,
	}
	w.print(parseStats(dump))
}

func SupportANSIColor(fd uintptr) bool {
	return isatty.IsTerminal(fd) && runtime.GOOS != "windows"
}
