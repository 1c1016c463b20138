package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"fang/internal/compiler"
)

const version = "0.1.0"

func main() {
	args := os.Args[1:]

	opts := compiler.Options{}
	timeRun := false
	var paths []string
	for _, arg := range args {
		switch arg {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "-v", "version":
			fmt.Printf("fangc %s\n", version)
			return
		case "--tokens":
			opts.Tokens = true
		case "--ast":
			opts.PrintAST = true
		case "--report":
			opts.Report = true
		case "--time":
			timeRun = true
		default:
			if strings.HasPrefix(arg, "--platform=") {
				opts.Platform = strings.TrimPrefix(arg, "--platform=")
				continue
			}
			if strings.HasPrefix(arg, "-") {
				fmt.Fprintf(os.Stderr, "Unknown option: %s\n", arg)
				showUsage()
				os.Exit(1)
			}
			paths = append(paths, arg)
		}
	}

	if len(paths) == 0 {
		showUsage()
		os.Exit(1)
	}

	inputPath := paths[0]
	outputPath := "file.S"
	if len(paths) > 1 {
		outputPath = paths[1]
	}

	source, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", errors.Wrapf(err, "could not read %s", inputPath))
		fmt.Println("Fail")
		os.Exit(1)
	}

	start := time.Now()
	ok := compiler.Compile([]compiler.SourceFile{
		{Name: inputPath, Source: string(source)},
	}, outputPath, opts)
	elapsed := time.Since(start)

	if timeRun {
		fmt.Printf("Completed in %f milliseconds.\n", float64(elapsed.Nanoseconds())/1e6)
	}
	if ok {
		fmt.Println("OK")
		return
	}
	fmt.Println("Fail")
	os.Exit(1)
}

func showUsage() {
	fmt.Println("fangc - fang compiler")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  fangc <input.fg> [output.S] [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --tokens               Print the token stream")
	fmt.Println("  --ast                  Print the resolved tree as source")
	fmt.Println("  --report               Print type and symbol table reports")
	fmt.Println("  --time                 Report compilation time")
	fmt.Println("  --platform=<name>      Select a back end (default apple_arm64)")
	fmt.Println()
	fmt.Println("The default output path is file.S. Exit code is 0 on success,")
	fmt.Println("1 on any error; diagnostics go to standard error.")
}
