package web

import (
	"strconv"
	"strings"

	"github.com/vbonduro/invtrack/internal/viewsync"
)

const (
	chartWidth   = 360
	chartHeight  = 200
	chartPadX    = 24
	chartPadTop  = 12
	chartPadBase = 28
)

type chartPoint struct {
	Label string
	Value int
	X     int
	Y     int
}

// chartVM lays out a line chart of quantities: one point per item in view
// order, evenly spaced, with the largest quantity at the top of the plot.
type chartVM struct {
	Points   []chartPoint
	Line     string // polyline points attribute
	Width    int
	Height   int
	Baseline int
	Max      int
}

func buildChart(series viewsync.Series) chartVM {
	vm := chartVM{
		Width:    chartWidth,
		Height:   chartHeight,
		Baseline: chartHeight - chartPadBase,
		Points:   make([]chartPoint, 0, len(series.Data)),
	}
	for _, v := range series.Data {
		vm.Max = max(vm.Max, v)
	}

	plotW := chartWidth - 2*chartPadX
	plotH := vm.Baseline - chartPadTop
	n := len(series.Data)

	coords := make([]string, 0, n)
	for i, v := range series.Data {
		x := chartPadX + plotW/2
		if n > 1 {
			x = chartPadX + i*plotW/(n-1)
		}
		y := vm.Baseline
		if vm.Max > 0 {
			y = vm.Baseline - v*plotH/vm.Max
		}
		label := ""
		if i < len(series.Labels) {
			label = series.Labels[i]
		}
		vm.Points = append(vm.Points, chartPoint{Label: label, Value: v, X: x, Y: y})
		coords = append(coords, strconv.Itoa(x)+","+strconv.Itoa(y))
	}
	vm.Line = strings.Join(coords, " ")
	return vm
}
