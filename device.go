package main

import (
	"fmt"
	"os"

	"parley/audio"

	"golang.org/x/term"
)

// selectDevice runs the interactive microphone picker behind -setup.
// Bluetooth inputs are tagged in the list, since they tend to capture at
// phone-call quality and the session will warn about them anyway.
func selectDevice(ctx audio.Context) (*audio.DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating capture devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, fmt.Errorf("no capture devices found")
	case 1:
		fmt.Printf("Using the only capture device: %s\n", devices[0].Name)
		return &devices[0], nil
	}

	labels := make([]string, len(devices))
	for i, d := range devices {
		labels[i] = d.Name
		if audio.IsBluetooth(d.Name) {
			labels[i] += "  [bluetooth]"
		}
	}

	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	draw := func() {
		fmt.Print("\r\x1b[J")
		fmt.Print("Pick a microphone (↑/↓ or j/k, Enter to confirm):\r\n\r\n")
		for i, label := range labels {
			if i == cursor {
				fmt.Printf("  \x1b[1;36m▶ %s\x1b[0m\r\n", label)
			} else {
				fmt.Printf("    %s\r\n", label)
			}
		}
	}
	move := func(delta int) {
		if next := cursor + delta; next >= 0 && next < len(devices) {
			cursor = next
		}
	}

	draw()
	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}

		switch {
		case n == 1 && buf[0] == '\r':
			fmt.Print("\r\n")
			term.Restore(fd, oldState)
			return &devices[cursor], nil
		case n == 1 && buf[0] == 3: // ctrl+c
			fmt.Print("\r\n")
			term.Restore(fd, oldState)
			os.Exit(0)
		case n == 1 && buf[0] == 'j':
			move(1)
		case n == 1 && buf[0] == 'k':
			move(-1)
		case n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'A':
			move(-1)
		case n == 3 && buf[0] == 0x1b && buf[1] == '[' && buf[2] == 'B':
			move(1)
		}

		fmt.Printf("\x1b[%dA", len(labels)+2)
		draw()
	}
}
