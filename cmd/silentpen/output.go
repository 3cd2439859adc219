package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/TheMichaelB/silentpen/internal/models"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warnColor    = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.Faint)
)

func printSuccess(format string, args ...interface{}) {
	successColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
	}
}

// readPassword returns value when set, otherwise prompts on the terminal
// without echo.
func readPassword(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%w: %s not given and stdin is not a terminal",
			models.ErrInvalidInput, strings.TrimSuffix(strings.ToLower(prompt), ": "))
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return string(password), nil
}

// readNewPassword prompts twice when value is empty and checks both match.
func readNewPassword(value, prompt string) (string, error) {
	if value != "" {
		return value, nil
	}

	first, err := readPassword("", prompt)
	if err != nil {
		return "", err
	}
	second, err := readPassword("", "Repeat "+strings.ToLower(prompt[:1])+prompt[1:])
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("%w: passwords do not match", models.ErrInvalidInput)
	}
	return first, nil
}

// readText reads all of r unchanged, used for content and bundles given on
// stdin.
func readText(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

// verificationWarning describes how many entries failed verification when err
// carries a corruption report.
func verificationWarning(err error) (string, bool) {
	var ce *models.CorruptionError
	if !errors.As(err, &ce) {
		return "", false
	}
	return fmt.Sprintf("%d of %d entries could not be verified", len(ce.Positions), ce.Total), true
}
