// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// terminalNavigator stands in for a browser page. Navigations are
// printed for the user to open; the page URL changes when the user
// pastes a callback URL back.
type terminalNavigator struct {
	output io.Writer

	mu      sync.Mutex
	current *url.URL
	pending string
}

func newTerminalNavigator(pageURL string, output io.Writer) (*terminalNavigator, error) {
	current, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("page URL: %w", err)
	}
	return &terminalNavigator{output: output, current: current}, nil
}

func (n *terminalNavigator) CurrentURL() *url.URL {
	n.mu.Lock()
	defer n.mu.Unlock()
	copied := *n.current
	return &copied
}

func (n *terminalNavigator) ReplaceURL(u *url.URL) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.current = u
}

func (n *terminalNavigator) Navigate(target string) {
	n.mu.Lock()
	n.pending = target
	n.mu.Unlock()
	fmt.Fprintf(n.output, "\nOpen this URL in a browser to log in:\n\n  %s\n\n", target)
}

// awaitingCallback reports whether a login was started since the last
// call.
func (n *terminalNavigator) awaitingCallback() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	pending := n.pending != ""
	n.pending = ""
	return pending
}

// promptCallbackURL asks for the URL the browser ended up on. On a
// terminal the input is not echoed: it carries a one-time login secret.
func promptCallbackURL(input *os.File, output io.Writer) (*url.URL, error) {
	fmt.Fprint(output, "Paste the URL your browser was redirected to: ")
	var line string
	if fd := int(input.Fd()); term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(output)
		if err != nil {
			return nil, fmt.Errorf("reading callback URL: %w", err)
		}
		line = string(raw)
	} else {
		var err error
		line, err = readLine(input)
		if err != nil {
			return nil, err
		}
	}
	return callbackFromString(strings.TrimSpace(line))
}

func readLine(input io.Reader) (string, error) {
	line, err := bufio.NewReader(input).ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("reading callback URL: %w", err)
	}
	return line, nil
}
