package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/openmined/remotesync/internal/version"
)

var (
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
)

func showHeader(w io.Writer, source, target string) {
	fmt.Fprintln(w, cyan.Bold(true).Render(version.ShortWithApp()))
	fmt.Fprintf(w, "%s %s\n", gray.Render("source"), lightGray.Render(source))
	fmt.Fprintf(w, "%s %s\n", gray.Render("target"), green.Render(target))
	fmt.Fprintln(w)
}
