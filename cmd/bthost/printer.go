package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rigado/bthost/gap"
)

var (
	addrColor = color.New(color.FgCyan, color.Bold)
	nameColor = color.New(color.FgGreen)
	dimColor  = color.New(color.Faint)
)

// printInfo prints a status line to the screen.
func printInfo(format string, a ...interface{}) {
	color.New(color.FgBlue, color.Bold).Println("[*] " + fmt.Sprintf(format, a...))
}

// printWarn prints a warning to the screen.
func printWarn(message string) {
	message = "[-] " + message

	color.New(color.FgYellow, color.Bold).Println(message)
}

// printError prints an error to the screen.
func printError(err error) {
	message := "[!] " + err.Error()

	color.New(color.FgRed, color.Bold).Println(message)
}

func printPeer(p *gap.Peer) {
	name, ok := p.Name()
	if !ok {
		name = "(unknown)"
	}
	fmt.Printf("%s  %-24s %s\n",
		addrColor.Sprint(p.Address()),
		nameColor.Sprint(name),
		dimColor.Sprintf("rssi %d", p.RSSI()))
}

func printStoredPeer(p *gap.Peer, bonded bool) {
	name, ok := p.Name()
	if !ok {
		name = "(unknown)"
	}
	flags := p.Address().Type.String()
	if bonded {
		flags += ", bonded"
	}
	fmt.Printf("%s  %-24s %s\n",
		addrColor.Sprint(p.Address()),
		nameColor.Sprint(name),
		dimColor.Sprint(flags))
}
