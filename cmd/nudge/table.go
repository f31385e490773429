package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

type tableSpec struct {
	headers []string
	aligns  []columnAlignment
	// maxWidths caps column widths; zero means unbounded.
	maxWidths []int
	footer    []string
}

func toRow(values []string, columns int) table.Row {
	r := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		if i < len(values) {
			r[i] = values[i]
		} else {
			r[i] = ""
		}
	}
	return r
}

func renderTable(spec tableSpec, rows [][]string) string {
	columns := len(spec.headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	style := table.StyleRounded
	style.Format.Footer = text.FormatDefault
	tw.SetStyle(style)
	tw.AppendHeader(toRow(spec.headers, columns))
	for _, row := range rows {
		tw.AppendRow(toRow(row, columns))
	}
	if len(spec.footer) > 0 {
		tw.AppendFooter(toRow(spec.footer, columns))
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(spec.aligns) && spec.aligns[i] == alignRight {
			align = text.AlignRight
		}
		cc := table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			AlignFooter: align,
		}
		if i < len(spec.maxWidths) && spec.maxWidths[i] > 0 {
			cc.WidthMax = spec.maxWidths[i]
			cc.WidthMaxEnforcer = text.WrapSoft
		}
		columnConfigs = append(columnConfigs, cc)
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}
